package hq

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/logger"
)

// maxBackoffSeconds caps the sleep between retry attempts.
const maxBackoffSeconds = 300.0

// Executor performs a single scheduled execution of a job: it stamps
// last_run, opens a running Log, drives the attempt loop with per-attempt
// timeout and backoff between retries, and finalises the Log with the
// outcome. Task failures are absorbed into the Log; only persistence
// failures surface as errors.
type Executor struct {
	store    *store.Store
	registry *task.Registry
	notify   func(*store.Log)
	backoff  func(attempt int) time.Duration
	logger   *zap.SugaredLogger
}

// NewExecutor creates an executor. notify may be nil; when set it is called
// after every Log transition so live feeds can pick them up.
func NewExecutor(st *store.Store, registry *task.Registry, notify func(*store.Log), log *zap.SugaredLogger) *Executor {
	if log == nil {
		log = logger.ComponentLogger("executor")
	}
	return &Executor{store: st, registry: registry, notify: notify, backoff: backoffDelay, logger: log}
}

type attemptResult struct {
	value interface{}
	err   error
}

// Execute runs the job once, including retry rounds. The returned Log is
// finalised as completed or failed. A returned error means the store could
// not record the execution, in which case the Log may be nil or stale.
func (e *Executor) Execute(ctx context.Context, job *store.Job) (*store.Log, error) {
	start := time.Now()
	startedAt := start.UTC().Truncate(time.Second)

	if err := e.store.UpdateJobLastRun(job.ID, startedAt); err != nil {
		return nil, err
	}

	execLog := &store.Log{
		JobID:     &job.ID,
		Status:    store.StatusRunning,
		StartedAt: startedAt,
	}
	if err := e.store.CreateLog(execLog); err != nil {
		return nil, err
	}
	e.broadcast(execLog)

	maxRetries := 0
	if job.MaxRetries != nil {
		maxRetries = *job.MaxRetries
	}

	var lastErr string
	for attempt := 0; attempt <= maxRetries; attempt++ {
		execLog.Retries = attempt

		value, err := e.attempt(ctx, job)
		if err == nil {
			execLog.Status = store.StatusCompleted
			execLog.Result = value
			break
		}

		cancelled := errors.Is(err, context.Canceled) || ctx.Err() != nil
		switch {
		case cancelled:
			lastErr = "cancelled"
		case errors.Is(err, context.DeadlineExceeded):
			lastErr = "Job execution timed out"
		default:
			lastErr = err.Error()
		}

		e.logger.Warnw("Job attempt failed",
			logger.FieldJobID, job.ID,
			logger.FieldTask, job.TaskName,
			logger.FieldAttempt, attempt,
			logger.FieldError, lastErr)

		if cancelled || attempt == maxRetries {
			break
		}
		if !sleepContext(ctx, e.backoff(attempt)) {
			lastErr = "cancelled"
			break
		}
	}

	if execLog.Status != store.StatusCompleted {
		execLog.Status = store.StatusFailed
		execLog.Error = lastErr
	}

	completed := time.Now()
	completedAt := completed.UTC().Truncate(time.Second)
	duration := completed.Sub(start).Seconds()
	execLog.CompletedAt = &completedAt
	execLog.Duration = &duration

	if err := e.store.UpdateLog(execLog); err != nil {
		return nil, err
	}
	e.broadcast(execLog)

	return execLog, nil
}

// attempt runs the task once under the job's per-attempt timeout. The task
// runs in its own goroutine so an uncooperative task cannot stall the
// scheduler past its deadline; the goroutine is abandoned on timeout and its
// eventual result discarded.
func (e *Executor) attempt(ctx context.Context, job *store.Job) (interface{}, error) {
	attemptCtx := ctx
	cancel := func() {}
	if job.Timeout != nil {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(*job.Timeout)*time.Second)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		value, err := e.registry.Execute(attemptCtx, job.TaskName, job.Params)
		done <- attemptResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		return res.value, res.err
	case <-attemptCtx.Done():
		return nil, attemptCtx.Err()
	}
}

// broadcast hands a snapshot to the notify sink. The executor keeps mutating
// its own Log across the attempt loop, so consumers get a copy.
func (e *Executor) broadcast(execLog *store.Log) {
	if e.notify != nil {
		snapshot := *execLog
		e.notify(&snapshot)
	}
}

// backoffDelay returns the sleep before retry attempt+1: exponential with
// jitter, min(300, 2^(attempt+1) + U(0,1)) seconds.
func backoffDelay(attempt int) time.Duration {
	seconds := math.Min(maxBackoffSeconds, math.Pow(2, float64(attempt+1))+rand.Float64())
	return time.Duration(seconds * float64(time.Second))
}

// sleepContext sleeps for d, returning false if ctx was cancelled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
