// Package errors provides error handling for homeworq.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrTaskNotFound) {
//	    // handle unregistered task
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap

	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors for the scheduler, one per failure kind.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the kind.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrTaskNotFound indicates the named task is not in the registry
	ErrTaskNotFound = New("task not found")

	// ErrInvalidSchedule indicates a schedule that violates the recurrence
	// rules, e.g. an "at" time combined with an hourly interval
	ErrInvalidSchedule = New("invalid schedule")

	// ErrInvalidCron indicates a cron expression that cannot be parsed or
	// carries out-of-range field values
	ErrInvalidCron = New("invalid cron expression")

	// ErrInvalidJob indicates a job definition that fails validation
	ErrInvalidJob = New("invalid job")

	// ErrTaskTimeout indicates a single attempt exceeded the job timeout
	ErrTaskTimeout = New("task timed out")

	// ErrTaskFailure indicates the task function returned an error
	ErrTaskFailure = New("task failed")

	// ErrStoreFailure indicates a persistence operation failed
	ErrStoreFailure = New("store operation failed")

	// ErrEngineStopped indicates an operation on an engine that is not running
	ErrEngineStopped = New("engine is not running")

	// ErrUnauthorized indicates the request lacks valid credentials
	ErrUnauthorized = New("unauthorized")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound or ErrTaskNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && IsAny(err, ErrNotFound, ErrTaskNotFound)
}

// IsValidationError checks if an error is or wraps one of the validation
// kinds. Validation errors surface to API callers as HTTP 400.
func IsValidationError(err error) bool {
	return err != nil && IsAny(err, ErrInvalidSchedule, ErrInvalidCron, ErrInvalidJob)
}

// IsStoreFailure checks if an error is or wraps ErrStoreFailure
func IsStoreFailure(err error) bool {
	return err != nil && Is(err, ErrStoreFailure)
}

// WrapStoreFailure wraps a database error as a store failure with context
func WrapStoreFailure(err error, context string) error {
	return Wrap(Wrap(ErrStoreFailure, err.Error()), context)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidJobError creates an invalid-job error with a formatted message
func NewInvalidJobError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidJob, Newf(format, args...).Error())
}
