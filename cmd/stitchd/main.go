package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veyra/stitchd/cmd/stitchd/commands"
	"github.com/veyra/stitchd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "stitchd",
	Short: "stitchd - provider cache and stitching daemon",
	Long: `stitchd answers range queries from a local entity cache, fetching only
the missing gaps from registered providers and stitching the results
into a single contiguous payload.

Available commands:
  serve      - Start the streaming and admin listeners
  bootstrap  - Create the first admin user
  db         - Database maintenance

Examples:
  stitchd serve                        # Start with ./stitchd.toml or env config
  stitchd serve --config /etc/stitchd.toml
  stitchd bootstrap --email ops@example.com
  stitchd db migrate`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (TOML)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.BootstrapCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
