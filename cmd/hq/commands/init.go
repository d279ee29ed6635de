package commands

import (
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/errors"
)

// InitCmd scaffolds a starter hq.toml.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold an hq.toml configuration file",
	Long: `Write a starter hq.toml with the default settings and a commented
example job declaration.

An existing file is never overwritten unless --force is given, in which
case the old file is rotated into the .back1/.back2/.back3 backup chain
first.`,
	RunE: runInit,
}

var (
	initPath  string
	initForce bool
)

func init() {
	InitCmd.Flags().StringVar(&initPath, "path", ".", "Directory to write hq.toml into")
	InitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing hq.toml (keeps a backup)")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := filepath.Join(initPath, "hq.toml")

	if err := config.Scaffold(configPath, initForce); err != nil {
		return errors.Wrap(err, "failed to scaffold config")
	}

	pterm.Success.Printf("Wrote %s\n", configPath)
	pterm.Println()
	pterm.Info.Println("Next steps:")
	pterm.Printf("  1. Edit %s to declare default jobs\n", configPath)
	pterm.Printf("  2. Run %s to start scheduling\n", pterm.LightCyan("hq run"))
	pterm.Printf("  3. Run %s to start the JSON API alongside it\n", pterm.LightCyan("hq run --serve"))
	return nil
}
