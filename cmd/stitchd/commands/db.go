package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veyra/stitchd/db"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
)

// DbCmd groups database maintenance subcommands.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database maintenance",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		database, err := db.OpenWithMigrations(cfg.Database.Path, cfg.Database.MaxConns, logger.Logger)
		if err != nil {
			return errors.Wrap(err, "migrate database")
		}
		defer database.Close()
		fmt.Printf("Database %s is up to date\n", cfg.Database.Path)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show entity and user counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, cfg, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer database.Close()

		var entities, users, tokens int
		if err := database.QueryRowContext(cmd.Context(), `SELECT COUNT(*) FROM entities`).Scan(&entities); err != nil {
			return errors.WrapStorage(err, "count entities")
		}
		if err := database.QueryRowContext(cmd.Context(), `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
			return errors.WrapStorage(err, "count users")
		}
		if err := database.QueryRowContext(cmd.Context(), `SELECT COUNT(*) FROM tokens`).Scan(&tokens); err != nil {
			return errors.WrapStorage(err, "count tokens")
		}

		fmt.Printf("Database: %s\n", cfg.Database.Path)
		fmt.Printf("  entities: %d\n", entities)
		fmt.Printf("  users:    %d\n", users)
		fmt.Printf("  tokens:   %d\n", tokens)
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
