package commands

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/veyra/stitchd/auth"
	"github.com/veyra/stitchd/db"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
)

// BootstrapCmd creates the first admin user directly against the store.
var BootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the first admin user",
	Long: `Create the initial user while the user table is still empty. Refuses
to run once any user exists; later users are out of scope for the CLI.`,
	RunE: runBootstrap,
}

var (
	bootstrapEmail    string
	bootstrapPassword string
)

func init() {
	BootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "Email for the first user (required)")
	BootstrapCmd.Flags().StringVar(&bootstrapPassword, "password", "", "Password (prompted when omitted)")
	BootstrapCmd.MarkFlagRequired("email")
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	password := bootstrapPassword
	if password == "" {
		fmt.Fprint(os.Stderr, "Password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return errors.Wrap(err, "read password")
		}
		password = string(raw)
	}

	database, err := db.OpenWithMigrations(cfg.Database.Path, cfg.Database.MaxConns, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	svc := auth.NewService(auth.NewStore(database), true)
	user, pair, err := svc.Bootstrap(cmd.Context(), bootstrapEmail, password)
	if err != nil {
		return err
	}

	fmt.Printf("Created user %s (%s)\n", user.Email, user.ID)
	fmt.Printf("access_token:  %s\n", pair.Access.Value)
	fmt.Printf("refresh_token: %s\n", pair.Refresh.Value)
	return nil
}
