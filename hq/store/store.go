// Package store persists jobs and execution logs.
//
// Records are plain structs; all SQL lives behind the Store so runners, the
// engine, and the HTTP layer never touch database/sql directly. Timestamps
// are written as RFC3339 UTC text, which SQLite compares lexicographically
// and the driver parses back into time.Time.
package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/schedule"
)

// Status represents the lifecycle state of a Log
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Job is one scheduled unit of work. Exactly one schedule shape is set; the
// other shape's columns are NULL in the database.
type Job struct {
	ID         string                 `json:"id"`
	TaskName   string                 `json:"task_name"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Schedule   schedule.Spec          `json:"schedule"`
	Timeout    *int                   `json:"timeout,omitempty"`     // seconds per attempt
	MaxRetries *int                   `json:"max_retries,omitempty"` // extra attempts after the first, nil = 0
	StartDate  *time.Time             `json:"start_date,omitempty"`
	EndDate    *time.Time             `json:"end_date,omitempty"`
	LastRun    *time.Time             `json:"last_run,omitempty"`
	NextRun    *time.Time             `json:"next_run,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Validate checks the invariants a job must satisfy before it is persisted
func (j *Job) Validate() error {
	if j.TaskName == "" {
		return errors.NewInvalidJobError("task name is required")
	}
	if err := j.Schedule.Validate(); err != nil {
		return err
	}
	if j.Timeout != nil && *j.Timeout < 1 {
		return errors.NewInvalidJobError("timeout must be at least 1 second, got %d", *j.Timeout)
	}
	if j.MaxRetries != nil && (*j.MaxRetries < 0 || *j.MaxRetries > 10) {
		return errors.NewInvalidJobError("max_retries must be between 0 and 10, got %d", *j.MaxRetries)
	}
	if j.StartDate != nil && j.EndDate != nil && !j.EndDate.After(*j.StartDate) {
		return errors.NewInvalidJobError("end_date must be after start_date")
	}
	return nil
}

// Log records one execution of a job, including every retry round.
// JobID is nil for ad-hoc runs triggered outside the scheduler.
type Log struct {
	ID          int64       `json:"id"`
	JobID       *string     `json:"job_id"`
	Status      Status      `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Duration    *float64    `json:"duration,omitempty"` // seconds
	Result      interface{} `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	Retries     int         `json:"retries"`
	CreatedAt   time.Time   `json:"created_at"`
}

// JobPatch carries a partial update for UpdateJob. Nil fields are left
// unchanged. A non-nil Schedule replaces the whole schedule; when the shape
// switches, the discarded shape's columns are nulled.
type JobPatch struct {
	Params     map[string]interface{}
	Schedule   *schedule.Spec
	Timeout    *int
	MaxRetries *int
	StartDate  *time.Time
	EndDate    *time.Time
}

// Apply returns a copy of job with the patch laid over it, without touching
// the database. Callers validate the result before persisting the patch.
func (p JobPatch) Apply(job Job) Job {
	if p.Params != nil {
		job.Params = p.Params
	}
	if p.Schedule != nil {
		job.Schedule = *p.Schedule
	}
	if p.Timeout != nil {
		job.Timeout = p.Timeout
	}
	if p.MaxRetries != nil {
		job.MaxRetries = p.MaxRetries
	}
	if p.StartDate != nil {
		job.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		job.EndDate = p.EndDate
	}
	return job
}

// TaskStats aggregates log outcomes for one task
type TaskStats struct {
	Task      string `json:"task"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Store handles persistence of jobs and logs
type Store struct {
	db *sql.DB
}

// NewStore creates a new store over an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DefaultJobID derives the stable identifier for a default job: the hex
// SHA-256 of the canonical JSON {"params":..., "task":...} with object keys
// sorted at every level. Equal {task, params} always hash to the same id,
// which is what makes reconciliation idempotent across restarts.
func DefaultJobID(taskName string, params map[string]interface{}) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"params": params,
		"task":   taskName,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to canonicalise job identity")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
