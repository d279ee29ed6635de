package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/maximiliancw/homeworq/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying config
func createBackup(configPath string) error {
	// Check if file exists before backing up
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate backups: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	// Delete oldest backup if exists
	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Log deletion failures (but don't fail config save)
		fmt.Printf("failed to delete old backup %s: %v\n", back3, err)
	}

	// Rotate .back2 to .back3
	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	// Rotate .back1 to .back2
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	// Copy current to .back1
	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

const scaffoldHeader = `# homeworq configuration
#
# Values here are overridden by HQ_* environment variables,
# e.g. HQ_API_PORT=9000 or HQ_ADMIN_PASSWORD=secret.

`

const scaffoldJobsExample = `
# Default jobs are reconciled into the store on every startup.
# The schedule is either a structured table or a cron string.
#
# [[jobs]]
# task = "ping"
# schedule = { interval = 1, unit = "hours" }
# max_retries = 3
# timeout = 30
#
#   [jobs.params]
#   url = "https://example.com"
#
# [[jobs]]
# task = "sleep"
# schedule = "*/15 * * * *"
#
#   [jobs.params]
#   seconds = 1
`

// Scaffold writes a starter hq.toml at the given path. An existing file is
// left untouched unless force is set, in which case it is rotated into the
// backup chain first.
func Scaffold(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.Newf("config file already exists at %s (use --force to overwrite)", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			return errors.Wrap(err, "failed to create config directory")
		}
	}

	if err := createBackup(path); err != nil {
		return err
	}

	// Marshal the defaults so the starter file always matches the shipped settings
	starter := map[string]interface{}{
		"api_on":                false,
		"api_auth":              false,
		"api_host":              DefaultAPIHost,
		"api_port":              DefaultAPIPort,
		"debug":                 false,
		"db_uri":                "sqlite://homeworq.db",
		"beat_interval_seconds": 1,
		"log_retention_days":    30,
	}
	data, err := toml.Marshal(starter)
	if err != nil {
		return errors.Wrap(err, "failed to marshal starter config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	content := append([]byte(scaffoldHeader), data...)
	content = append(content, []byte(scaffoldJobsExample)...)
	if err := os.WriteFile(path, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}
