package hq

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/logger"
)

const (
	// runnerErrorSleep is how long a runner backs off after a store error
	// before retrying its pass.
	runnerErrorSleep = 60 * time.Second

	// runnerRetrySleep is the recheck interval while a due job is blocked,
	// for example by an execution that is still finalising.
	runnerRetrySleep = time.Second
)

// Runner drives the schedule of a single job: sleep until the next fire
// time, execute, recompute next_run, repeat. Every pass reloads the job so
// API updates and deletes take effect without coordination. A runner exits
// when its job is deleted, passes its end date, or its context is cancelled;
// the Dispatcher reaps it and spawns a replacement if the job is still
// active.
type Runner struct {
	jobID    string
	store    *store.Store
	executor *Executor
	locks    *lockTable

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	logger *zap.SugaredLogger
}

func newRunner(ctx context.Context, jobID string, st *store.Store, ex *Executor, locks *lockTable, log *zap.SugaredLogger) *Runner {
	runnerCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		jobID:    jobID,
		store:    st,
		executor: ex,
		locks:    locks,
		ctx:      runnerCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   log.With(logger.FieldJobID, jobID),
	}
}

func (r *Runner) start() {
	go r.run()
}

// stop signals the runner to exit. An in-flight attempt is cancelled and its
// log finalised as failed before the runner unwinds.
func (r *Runner) stop() {
	r.cancel()
}

// wait blocks until the runner has fully exited.
func (r *Runner) wait() {
	<-r.done
}

func (r *Runner) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Runner) run() {
	defer close(r.done)
	defer r.locks.drop(r.jobID)

	r.logger.Debugw("Runner started")
	for {
		wait, exit := r.pass()
		if exit {
			return
		}
		if !sleepContext(r.ctx, wait) {
			return
		}
	}
}

// pass performs one scheduling cycle and reports how long to sleep before
// the next one, or that the runner should exit.
func (r *Runner) pass() (time.Duration, bool) {
	select {
	case <-r.ctx.Done():
		return 0, true
	default:
	}

	job, err := r.store.GetJob(r.jobID)
	if err != nil {
		r.logger.Errorw("Failed to load job", logger.FieldError, err)
		return runnerErrorSleep, false
	}
	if job == nil {
		r.logger.Debugw("Job deleted, runner exiting")
		return 0, true
	}

	now := time.Now().UTC()

	if job.EndDate != nil && !job.EndDate.After(now) {
		if job.NextRun != nil {
			if err := r.store.UpdateJobNextRun(job.ID, nil); err != nil {
				r.logger.Errorw("Failed to park expired job", logger.FieldError, err)
				return runnerErrorSleep, false
			}
		}
		r.logger.Infow("Job reached its end date, runner exiting", logger.FieldTask, job.TaskName)
		return 0, true
	}

	runnable, err := r.canRun(job, now)
	if err != nil {
		r.logger.Errorw("Failed to check run state", logger.FieldError, err)
		return runnerErrorSleep, false
	}

	if runnable {
		if err := r.runOnce(job); err != nil {
			r.logger.Errorw("Execution could not be recorded", logger.FieldError, err)
			return runnerErrorSleep, false
		}
		// Measure the freshly persisted next_run on the next pass
		return 0, false
	}

	// A job with no stored next_run and at least one past execution needs a
	// reschedule; this happens after a schedule patch clears the column.
	if job.NextRun == nil {
		last, err := r.store.LastLog(job.ID)
		if err != nil {
			r.logger.Errorw("Failed to load last log", logger.FieldError, err)
			return runnerErrorSleep, false
		}
		if last != nil {
			next, err := r.reschedule(job, job.LastRun)
			if err != nil {
				r.logger.Errorw("Failed to reschedule job", logger.FieldError, err)
				return runnerErrorSleep, false
			}
			if next == nil {
				// No fire left before the end date; wait out the window
				return time.Until(*job.EndDate), false
			}
			return 0, false
		}
	}

	return r.waitDuration(job, now), false
}

// canRun reports whether the job is due right now. A job fires when it is
// inside its date window, has no execution still running, and either its
// next_run has arrived or it has never run at all.
func (r *Runner) canRun(job *store.Job, now time.Time) (bool, error) {
	if job.StartDate != nil && now.Before(*job.StartDate) {
		return false, nil
	}
	if job.EndDate != nil && !job.EndDate.After(now) {
		return false, nil
	}
	running, err := r.store.HasRunningLog(job.ID)
	if err != nil {
		return false, err
	}
	if running {
		return false, nil
	}
	if job.NextRun != nil {
		return !job.NextRun.After(now), nil
	}
	last, err := r.store.LastLog(job.ID)
	if err != nil {
		return false, err
	}
	return last == nil, nil
}

// runOnce executes the job under its overlap lock and persists the next fire
// time. Failing to take the lock means an execution is already in flight, so
// this fire is skipped, not queued.
func (r *Runner) runOnce(job *store.Job) error {
	release, ok := r.locks.acquire(job.ID)
	if !ok {
		r.logger.Debugw("Skipping overlapping execution", logger.FieldTask, job.TaskName)
		return nil
	}
	defer release()

	execLog, err := r.executor.Execute(r.ctx, job)
	if err != nil {
		return err
	}

	fields := []interface{}{
		logger.FieldTask, job.TaskName,
		logger.FieldLogID, execLog.ID,
		logger.FieldStatus, string(execLog.Status),
		"retries", execLog.Retries,
	}
	if execLog.Duration != nil {
		fields = append(fields, logger.FieldDurationMS, int64(*execLog.Duration*1000))
	}
	if execLog.Status == store.StatusCompleted {
		r.logger.Infow("Job completed", fields...)
	} else {
		r.logger.Warnw("Job failed", append(fields, logger.FieldError, execLog.Error)...)
	}

	lastRun := execLog.StartedAt
	_, err = r.reschedule(job, &lastRun)
	return err
}

// reschedule computes and persists the job's next fire time. It returns nil
// when no fire fits before the job's end date, leaving next_run cleared.
func (r *Runner) reschedule(job *store.Job, lastRun *time.Time) (*time.Time, error) {
	now := time.Now().UTC()
	next, err := job.Schedule.NextRun(now, lastRun)
	if err != nil {
		return nil, err
	}
	if job.EndDate != nil && next.After(*job.EndDate) {
		if err := r.store.UpdateJobNextRun(job.ID, nil); err != nil {
			return nil, err
		}
		r.logger.Infow("No fire before end date, parking job", logger.FieldTask, job.TaskName)
		return nil, nil
	}
	if err := r.store.UpdateJobNextRun(job.ID, &next); err != nil {
		return nil, err
	}
	r.logger.Debugw("Scheduled next run", logger.FieldNextRun, next.Format(time.RFC3339))
	return &next, nil
}

// waitDuration picks the sleep for a pass that did not execute: until the
// start date if the window has not opened, until next_run when it is in the
// future, or a short recheck when the job is due but blocked.
func (r *Runner) waitDuration(job *store.Job, now time.Time) time.Duration {
	if job.StartDate != nil && now.Before(*job.StartDate) {
		if job.NextRun == nil || job.StartDate.After(*job.NextRun) {
			return job.StartDate.Sub(now)
		}
	}
	if job.NextRun != nil && job.NextRun.After(now) {
		return job.NextRun.Sub(now)
	}
	return runnerRetrySleep
}
