package config

import "github.com/maximiliancw/homeworq/errors"

// Validate checks that the settings are valid
func (s *Settings) Validate() error {
	// API port: must be a valid TCP port when the API is enabled
	if s.APIPort < 0 || s.APIPort > 65535 {
		return errors.Newf("api_port must be between 0 and 65535, got %d", s.APIPort)
	}
	if s.APIOn && s.APIPort == 0 {
		return errors.New("api_port cannot be 0 when api_on is set (omit for default port 8000)")
	}

	// Auth requires credentials
	if s.APIAuth {
		if s.AdminUsername == "" {
			return errors.New("admin_username cannot be empty when api_auth is set (use HQ_ADMIN_USERNAME)")
		}
		if s.AdminPassword == "" {
			return errors.New("admin_password cannot be empty when api_auth is set (use HQ_ADMIN_PASSWORD)")
		}
	}

	// Beat interval: 0/negative fall back to the 1s floor, but an explicit
	// negative value is a config mistake worth flagging
	if s.BeatIntervalSeconds < 0 {
		return errors.Newf("beat_interval_seconds must be >= 0, got %d", s.BeatIntervalSeconds)
	}

	// Retention: 0 = keep forever, negative = invalid
	if s.LogRetentionDays < 0 {
		return errors.Newf("log_retention_days must be >= 0, got %d", s.LogRetentionDays)
	}

	if s.LogTheme != "" && s.LogTheme != "everforest" && s.LogTheme != "gruvbox" {
		return errors.Newf("log_theme must be everforest or gruvbox, got %q", s.LogTheme)
	}

	// Default jobs: structural checks only. Schedule contents and task
	// existence are validated at reconciliation time against the registry.
	for i, job := range s.Jobs {
		if job.Task == "" {
			return errors.Newf("jobs[%d]: task cannot be empty", i)
		}
		if job.Schedule == nil {
			return errors.Newf("jobs[%d] (%s): schedule is required", i, job.Task)
		}
		if job.MaxRetries != nil && *job.MaxRetries < 0 {
			return errors.Newf("jobs[%d] (%s): max_retries must be >= 0, got %d", i, job.Task, *job.MaxRetries)
		}
		if job.Timeout != nil && *job.Timeout <= 0 {
			return errors.Newf("jobs[%d] (%s): timeout must be > 0 seconds, got %d (omit for no timeout)", i, job.Task, *job.Timeout)
		}
	}

	return nil
}
