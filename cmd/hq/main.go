package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maximiliancw/homeworq/cmd/hq/commands"
)

var rootCmd = &cobra.Command{
	Use:   "hq",
	Short: "homeworq - a self-contained periodic job scheduler",
	Long: `homeworq - a self-contained periodic job scheduler.

homeworq runs recurring jobs against a local SQLite database, retries
failures with exponential backoff, and exposes a JSON API for inspecting
jobs and their execution history.

Available commands:
  run      - Start the scheduler (and the API when configured)
  init     - Scaffold an hq.toml configuration file
  config   - Inspect and validate the configuration cascade
  version  - Show build information

Examples:
  hq init                  # Write a starter hq.toml
  hq run                   # Start scheduling with the config cascade
  hq run --serve           # Start scheduling and force the API on
  hq config show           # Show the effective configuration
  hq config get api_port   # Read a single setting`,
}

func init() {
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
