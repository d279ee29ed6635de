package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/logger"
	"github.com/maximiliancw/homeworq/server"
	"github.com/maximiliancw/homeworq/tasks"
)

// shutdownGrace bounds how long a graceful stop may take before in-flight
// executions are abandoned.
const shutdownGrace = 30 * time.Second

// RunCmd starts the scheduler and, when configured, the control-plane API.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler",
	Long: `Start the scheduler in the foreground.

Settings come from the configuration cascade (defaults < /etc/homeworq <
~/.hq/hq.toml < ./hq.toml < HQ_* environment variables) unless --config
points at a specific file. Default jobs declared in the file are
reconciled into the store before the first beat, and edits to the file
are picked up while the scheduler runs.

The scheduler runs until interrupted (Ctrl+C) and finishes in-flight
executions before exiting.`,
	RunE: runRun,
}

var (
	runConfigPath string
	runServe      bool
)

func init() {
	RunCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a specific hq.toml (skips the cascade)")
	RunCmd.Flags().BoolVar(&runServe, "serve", false, "Serve the HTTP API even when api_on is false")
}

func runRun(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(runConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if runServe {
		settings.APIOn = true
	}
	if err := settings.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if err := logger.Initialize(settings.Debug, settings.LogPath); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Cleanup()

	registry := task.NewRegistry()
	if err := tasks.Register(registry); err != nil {
		return errors.Wrap(err, "failed to register built-in tasks")
	}

	engine, err := hq.New(*settings, hq.WithRegistry(registry))
	if err != nil {
		return err
	}
	if err := engine.Start(context.Background()); err != nil {
		return errors.Wrap(err, "failed to start engine")
	}

	var srv *server.Server
	if settings.APIOn {
		srv = server.New(engine, nil)
		if err := srv.Start(); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if stopErr := engine.Stop(stopCtx); stopErr != nil {
				logger.Warnw("Engine stop failed during startup unwind", logger.FieldError, stopErr)
			}
			return errors.Wrap(err, "failed to start API server")
		}
	}

	if watcher := watchConfig(runConfigPath, engine); watcher != nil {
		defer watcher.Stop()
	}

	printStartupBanner(settings, engine, srv)

	// GRACE: wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Println()
	pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

	// Start graceful shutdown in background
	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- shutdown(engine, srv)
	}()

	// Wait for either shutdown completion or second Ctrl+C
	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("Scheduler stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil // unreachable
	}
}

// loadSettings resolves the effective settings: an explicit --config file
// wins over the cascade.
func loadSettings(path string) (*config.Settings, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// watchConfig re-reconciles default jobs when the active config file
// changes. Returns nil when no config file is in play, i.e. every setting
// came from defaults and environment.
func watchConfig(explicitPath string, engine *hq.Engine) *config.ConfigWatcher {
	path := explicitPath
	if path == "" {
		path = config.ActiveConfigFile()
	}
	if path == "" {
		return nil
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable",
			logger.FieldError, err,
			logger.FieldPath, path)
		return nil
	}
	watcher.OnReload(func(s *config.Settings) error {
		return engine.ReconcileDefaults(s.Jobs)
	})
	watcher.Start()

	logger.Infow("Watching config for default-job changes", logger.FieldPath, path)
	return watcher
}

// shutdown stops components in reverse order of startup: the API first so
// no new work arrives while runners drain, then the engine.
func shutdown(engine *hq.Engine, srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if srv != nil {
		if err := srv.Stop(ctx); err != nil {
			logger.Warnw("API server stop failed", logger.FieldError, err)
		}
	}
	return engine.Stop(ctx)
}
