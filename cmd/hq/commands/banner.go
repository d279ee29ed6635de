package commands

import (
	"github.com/pterm/pterm"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/hq"
	"github.com/maximiliancw/homeworq/server"
	"github.com/maximiliancw/homeworq/version"
)

// printStartupBanner prints the user-facing startup summary once the engine
// (and API, when enabled) is live.
func printStartupBanner(settings *config.Settings, engine *hq.Engine, srv *server.Server) {
	info := version.Get()

	pterm.DefaultHeader.WithFullWidth().Printf("homeworq %s", info.Version)
	pterm.Println()

	pterm.Info.Printf("Version:  %s (commit %s)\n", info.Version, info.Short())
	pterm.Info.Printf("Database: %s\n", settings.GetDBURI())
	pterm.Info.Printf("Beat:     every %s\n", settings.BeatInterval())
	pterm.Info.Printf("Tasks:    %d registered\n", len(engine.Registry().Names()))
	if len(settings.Jobs) > 0 {
		pterm.Info.Printf("Jobs:     %d default job(s) reconciled\n", len(settings.Jobs))
	}

	if srv != nil {
		pterm.Info.Printf("API:      http://%s/api (auth: %v)\n", srv.Addr(), settings.APIAuth)
	} else {
		pterm.Info.Println("API:      off (enable with api_on or --serve)")
	}
	if settings.LogPath != "" {
		pterm.Info.Printf("Logs:     %s\n", settings.LogPath)
	}

	pterm.Println()
	pterm.Printf("%s\n\n", pterm.Gray("Press Ctrl+C to stop"))
}
