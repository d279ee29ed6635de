// Package config loads and watches homeworq settings.
//
// Settings are merged from TOML files and environment variables with the
// HQ_ prefix. Precedence (lowest to highest): system < user < project < env.
package config

// Settings represents the homeworq runtime configuration. The toml/json/yaml
// tags keep `hq config show` output round-trippable as an hq.toml file.
type Settings struct {
	// Control-plane API
	APIOn   bool   `mapstructure:"api_on" toml:"api_on" json:"api_on" yaml:"api_on"`         // Serve the HTTP API (default: false)
	APIAuth bool   `mapstructure:"api_auth" toml:"api_auth" json:"api_auth" yaml:"api_auth"` // Require HTTP Basic auth on API routes
	APIHost string `mapstructure:"api_host" toml:"api_host" json:"api_host" yaml:"api_host"` // Bind host (default: localhost)
	APIPort int    `mapstructure:"api_port" toml:"api_port" json:"api_port" yaml:"api_port"` // Bind port (default: 8000)

	// Logging
	Debug    bool   `mapstructure:"debug" toml:"debug" json:"debug" yaml:"debug"`                 // Lower log threshold to Debug
	LogPath  string `mapstructure:"log_path" toml:"log_path" json:"log_path" yaml:"log_path"`     // Optional JSON log file (empty = console only)
	LogTheme string `mapstructure:"log_theme" toml:"log_theme" json:"log_theme" yaml:"log_theme"` // Color theme: gruvbox, everforest

	// Storage
	DBURI string `mapstructure:"db_uri" toml:"db_uri" json:"db_uri" yaml:"db_uri"` // Database URI (default: sqlite://homeworq.db)

	// Scheduler
	BeatIntervalSeconds int `mapstructure:"beat_interval_seconds" toml:"beat_interval_seconds" json:"beat_interval_seconds" yaml:"beat_interval_seconds"` // Dispatcher poll interval (default: 1, floor: 1)
	LogRetentionDays    int `mapstructure:"log_retention_days" toml:"log_retention_days" json:"log_retention_days" yaml:"log_retention_days"`             // Execution log retention (default: 30, 0 = keep forever)

	// API credentials. Prefer HQ_ADMIN_USERNAME / HQ_ADMIN_PASSWORD env vars;
	// they are never echoed by `hq config show`.
	AdminUsername string `mapstructure:"admin_username" toml:"-" json:"-" yaml:"-"`
	AdminPassword string `mapstructure:"admin_password" toml:"-" json:"-" yaml:"-"`

	// Default jobs reconciled into the store on startup
	Jobs []JobSpec `mapstructure:"jobs" toml:"jobs,omitempty" json:"jobs,omitempty" yaml:"jobs,omitempty"`
}

// JobSpec declares a default job in configuration. Schedule accepts either
// a structured table ({interval, unit, at}) or a cron expression string;
// parsing happens at reconciliation time against the task registry.
type JobSpec struct {
	Task       string                 `mapstructure:"task" toml:"task" json:"task" yaml:"task"`
	Params     map[string]interface{} `mapstructure:"params" toml:"params,omitempty" json:"params,omitempty" yaml:"params,omitempty"`
	Schedule   interface{}            `mapstructure:"schedule" toml:"schedule" json:"schedule" yaml:"schedule"`
	MaxRetries *int                   `mapstructure:"max_retries" toml:"max_retries,omitempty" json:"max_retries,omitempty" yaml:"max_retries,omitempty"` // Extra attempts after the first, nil = 0
	Timeout    *int                   `mapstructure:"timeout" toml:"timeout,omitempty" json:"timeout,omitempty" yaml:"timeout,omitempty"`                 // Seconds per attempt, nil = no timeout
	StartDate  string                 `mapstructure:"start_date" toml:"start_date,omitempty" json:"start_date,omitempty" yaml:"start_date,omitempty"`     // RFC3339, empty = immediately eligible
	EndDate    string                 `mapstructure:"end_date" toml:"end_date,omitempty" json:"end_date,omitempty" yaml:"end_date,omitempty"`             // RFC3339, empty = no expiry
}

// API defaults
const (
	DefaultAPIHost = "localhost"
	DefaultAPIPort = 8000
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
