package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api_on", false)
	v.SetDefault("api_auth", false)
	v.SetDefault("api_host", DefaultAPIHost)
	v.SetDefault("api_port", DefaultAPIPort)

	// Logging defaults
	v.SetDefault("debug", false)
	v.SetDefault("log_path", "")
	v.SetDefault("log_theme", "everforest")

	// Storage defaults
	v.SetDefault("db_uri", "sqlite://homeworq.db")

	// Scheduler defaults
	v.SetDefault("beat_interval_seconds", 1)
	v.SetDefault("log_retention_days", 30)

	// API credential defaults (override via HQ_ADMIN_USERNAME / HQ_ADMIN_PASSWORD)
	v.SetDefault("admin_username", "admin")
	v.SetDefault("admin_password", "admin")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// API credentials
	v.BindEnv("admin_username", "HQ_ADMIN_USERNAME")
	v.BindEnv("admin_password", "HQ_ADMIN_PASSWORD")

	// Database URI
	v.BindEnv("db_uri", "HQ_DB_URI")
}

// APIAddr returns the host:port the API server binds to
func (s *Settings) APIAddr() string {
	host := s.APIHost
	if host == "" {
		host = DefaultAPIHost
	}
	port := s.APIPort
	if port == 0 {
		port = DefaultAPIPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// BeatInterval returns the dispatcher poll interval, floored at one second
func (s *Settings) BeatInterval() time.Duration {
	if s.BeatIntervalSeconds < 1 {
		return time.Second
	}
	return time.Duration(s.BeatIntervalSeconds) * time.Second
}

// GetDBURI returns the database URI (default: sqlite://homeworq.db)
func (s *Settings) GetDBURI() string {
	if s.DBURI == "" {
		return "sqlite://homeworq.db"
	}
	return s.DBURI
}

// GetLogTheme returns the log theme (default: everforest)
func (s *Settings) GetLogTheme() string {
	if s.LogTheme == "" {
		return "everforest"
	}
	return s.LogTheme
}

// String returns a string representation of the settings
func (s *Settings) String() string {
	return fmt.Sprintf("Settings{API: %v @ %s, DB: %s, Beat: %s, Jobs: %d}",
		s.APIOn, s.APIAddr(), s.GetDBURI(), s.BeatInterval(), len(s.Jobs))
}
