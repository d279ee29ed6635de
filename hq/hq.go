// Package hq implements the scheduling engine. A Dispatcher beat keeps one
// Runner per active job, each Runner fires its job through the Executor with
// retry, backoff, and timeout handling, and default jobs declared in
// configuration are reconciled into the store at startup.
//
// The engine owns the database handle and the task registry. The HTTP API
// and the CLI both sit on top of this package.
package hq

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/db"
	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/logger"
	"github.com/maximiliancw/homeworq/version"
)

// LogBroadcaster receives every log transition for live feeds. BroadcastLog
// is called from runner goroutines and must not block.
type LogBroadcaster interface {
	BroadcastLog(execLog *store.Log)
}

// Engine ties the scheduler together: store, registry, dispatcher, and the
// background retention sweep. Create one with New, then Start or Run it.
type Engine struct {
	settings config.Settings
	registry *task.Registry
	defaults []config.JobSpec

	mu         sync.Mutex
	running    bool
	conn       *sql.DB
	store      *store.Store
	dispatcher *Dispatcher
	cancel     context.CancelFunc
	startedAt  time.Time
	wg         sync.WaitGroup

	notifyMu    sync.RWMutex
	broadcaster LogBroadcaster

	logger *zap.SugaredLogger
}

// Option configures an Engine during New.
type Option func(*Engine)

// WithRegistry replaces the engine's task registry. Use this to share one
// registry between the engine and code that registers tasks up front.
func WithRegistry(registry *task.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithDefaults declares additional default jobs beyond those in the
// settings. They reconcile exactly like configured ones.
func WithDefaults(specs ...config.JobSpec) Option {
	return func(e *Engine) {
		e.defaults = append(e.defaults, specs...)
	}
}

// New creates an engine from settings. The settings are validated here so a
// bad configuration fails before any state is touched.
func New(settings config.Settings, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		settings: settings,
		registry: task.NewRegistry(),
		logger:   logger.ComponentLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.defaults = append(append([]config.JobSpec{}, settings.Jobs...), e.defaults...)
	return e, nil
}

// Registry returns the engine's task registry.
func (e *Engine) Registry() *task.Registry {
	return e.registry
}

// Store returns the engine's store, or nil when the engine is not running.
func (e *Engine) Store() *store.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store
}

// Settings returns the settings the engine was created with.
func (e *Engine) Settings() config.Settings {
	return e.settings
}

// IsRunning reports whether Start has succeeded and Stop has not been called.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetBroadcaster installs the live-feed sink. Safe to call at any time; a
// nil broadcaster disables notifications.
func (e *Engine) SetBroadcaster(b LogBroadcaster) {
	e.notifyMu.Lock()
	e.broadcaster = b
	e.notifyMu.Unlock()
}

func (e *Engine) notifyLog(execLog *store.Log) {
	e.notifyMu.RLock()
	b := e.broadcaster
	e.notifyMu.RUnlock()
	if b != nil {
		snapshot := *execLog
		b.BroadcastLog(&snapshot)
	}
}

// Start opens the database, recovers logs interrupted by the previous
// shutdown, reconciles default jobs, and launches the dispatcher. It returns
// once the scheduler is live; ctx bounds the lifetime of all background
// work.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("engine already running")
	}

	conn, err := db.OpenURI(e.settings.GetDBURI(), e.logger)
	if err != nil {
		return err
	}
	st := store.NewStore(conn)

	if err := e.recoverInterruptedLogs(st); err != nil {
		conn.Close()
		return err
	}

	if err := NewReconciler(st, e.registry, e.logger).Reconcile(e.defaults); err != nil {
		conn.Close()
		return err
	}

	engineCtx, cancel := context.WithCancel(ctx)

	executor := NewExecutor(st, e.registry, e.notifyLog, e.logger)
	dispatcher := NewDispatcher(engineCtx, st, executor, e.settings.BeatInterval(), e.logger)
	dispatcher.Start()

	if e.settings.LogRetentionDays > 0 {
		e.wg.Add(1)
		go e.retentionLoop(engineCtx, st)
	}

	e.conn = conn
	e.store = st
	e.dispatcher = dispatcher
	e.cancel = cancel
	e.running = true
	e.startedAt = time.Now().UTC()

	e.logger.Infow("Engine started",
		"tasks", len(e.registry.Names()),
		"default_jobs", len(e.defaults),
		"beat_interval", e.settings.BeatInterval().String())
	return nil
}

// Stop cancels all runners, waits for them to finalise their logs, and
// closes the database. ctx bounds the wait; when it expires the database is
// closed anyway and stragglers fail their final writes.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return errors.Wrap(errors.ErrEngineStopped, "stop")
	}

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.dispatcher.Stop()
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warnw("Shutdown wait expired, closing database with runners still live")
	}

	if err := e.conn.Close(); err != nil {
		e.logger.Warnw("Failed to close database", logger.FieldError, err)
	}

	e.running = false
	e.conn = nil
	e.store = nil
	e.dispatcher = nil
	e.cancel = nil

	e.logger.Infow("Engine stopped")
	return nil
}

// Run starts the engine and blocks until SIGINT or SIGTERM, then shuts down
// with a 30 second grace period.
func (e *Engine) Run() error {
	if err := e.Start(context.Background()); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	e.logger.Infow("Received signal, shutting down", "signal", sig.String())

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Stop(stopCtx)
}

// CreateJob validates and persists a user-created job. The dispatcher picks
// it up within two beats.
func (e *Engine) CreateJob(job *store.Job) (*store.Job, error) {
	st := e.Store()
	if st == nil {
		return nil, errors.Wrap(errors.ErrEngineStopped, "create job")
	}
	if !e.registry.Has(job.TaskName) {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task not registered: %s", job.TaskName)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := st.CreateJob(job); err != nil {
		return nil, err
	}
	e.logger.Infow("Job created", logger.FieldJobID, job.ID, logger.FieldTask, job.TaskName)
	return job, nil
}

// UpdateJob applies a partial update and restarts the job's runner so the
// change takes effect on the next beat. An in-flight execution is cancelled.
func (e *Engine) UpdateJob(id string, patch store.JobPatch) (*store.Job, error) {
	st := e.Store()
	if st == nil {
		return nil, errors.Wrap(errors.ErrEngineStopped, "update job")
	}

	current, err := st.GetJob(id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, errors.Wrapf(errors.ErrNotFound, "job not found: %s", id)
	}

	patched := patch.Apply(*current)
	if err := patched.Validate(); err != nil {
		return nil, err
	}

	job, err := st.UpdateJob(id, patch)
	if err != nil {
		return nil, err
	}

	e.stopRunner(id)
	e.logger.Infow("Job updated", logger.FieldJobID, id, logger.FieldTask, job.TaskName)
	return job, nil
}

// DeleteJob removes a job and stops its runner. Logs cascade with the job.
func (e *Engine) DeleteJob(id string) error {
	st := e.Store()
	if st == nil {
		return errors.Wrap(errors.ErrEngineStopped, "delete job")
	}
	if err := st.DeleteJob(id); err != nil {
		return err
	}
	e.stopRunner(id)
	e.logger.Infow("Job deleted", logger.FieldJobID, id)
	return nil
}

func (e *Engine) stopRunner(jobID string) {
	e.mu.Lock()
	d := e.dispatcher
	e.mu.Unlock()
	if d != nil {
		d.StopRunner(jobID)
	}
}

// ReconcileDefaults upserts a fresh set of default-job declarations into the
// running engine. The CLI calls this when the config file changes so edited
// schedules take effect without a restart; jobs whose {task, params} are
// unchanged keep their id and update in place.
func (e *Engine) ReconcileDefaults(specs []config.JobSpec) error {
	st := e.Store()
	if st == nil {
		return errors.Wrap(errors.ErrEngineStopped, "reconcile defaults")
	}
	if err := NewReconciler(st, e.registry, e.logger).Reconcile(specs); err != nil {
		return err
	}
	e.mu.Lock()
	e.defaults = append([]config.JobSpec{}, specs...)
	e.mu.Unlock()
	return nil
}

// RunTask executes a registered task once, outside any schedule: no retries,
// no timeout, recorded as a log with no job attached. The log and the task's
// own error are both returned so callers can report the failure alongside
// its record.
func (e *Engine) RunTask(ctx context.Context, name string, params map[string]interface{}) (*store.Log, error) {
	st := e.Store()
	if st == nil {
		return nil, errors.Wrap(errors.ErrEngineStopped, "run task")
	}
	if !e.registry.Has(name) {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task not registered: %s", name)
	}

	start := time.Now()
	execLog := &store.Log{
		Status:    store.StatusRunning,
		StartedAt: start.UTC().Truncate(time.Second),
	}
	if err := st.CreateLog(execLog); err != nil {
		return nil, err
	}
	e.notifyLog(execLog)

	value, taskErr := e.registry.Execute(ctx, name, params)

	completed := time.Now()
	completedAt := completed.UTC().Truncate(time.Second)
	duration := completed.Sub(start).Seconds()
	execLog.CompletedAt = &completedAt
	execLog.Duration = &duration
	if taskErr != nil {
		execLog.Status = store.StatusFailed
		execLog.Error = taskErr.Error()
	} else {
		execLog.Status = store.StatusCompleted
		execLog.Result = value
	}

	if err := st.UpdateLog(execLog); err != nil {
		return nil, err
	}
	e.notifyLog(execLog)

	return execLog, taskErr
}

// recoverInterruptedLogs finalises logs still marked running at startup;
// they belong to executions cut off by the previous shutdown. The overlap
// guard depends on this running before the dispatcher.
func (e *Engine) recoverInterruptedLogs(st *store.Store) error {
	logs, err := st.ListRunningLogs()
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return nil
	}

	now := time.Now().UTC().Truncate(time.Second)
	for _, execLog := range logs {
		completedAt := now
		duration := now.Sub(execLog.StartedAt).Seconds()
		if duration < 0 {
			duration = 0
		}
		execLog.Status = store.StatusFailed
		execLog.Error = "interrupted by shutdown"
		execLog.CompletedAt = &completedAt
		execLog.Duration = &duration
		if err := st.UpdateLog(execLog); err != nil {
			return err
		}
	}
	e.logger.Warnw("Recovered interrupted executions", logger.FieldCount, len(logs))
	return nil
}

// retentionLoop prunes logs older than the retention window, once at
// startup and then daily.
func (e *Engine) retentionLoop(ctx context.Context, st *store.Store) {
	defer e.wg.Done()

	sweep := func() {
		deleted, err := st.CleanupOldLogs(e.settings.LogRetentionDays)
		if err != nil {
			e.logger.Warnw("Log cleanup failed", logger.FieldError, err)
			return
		}
		if deleted > 0 {
			e.logger.Infow("Pruned old logs",
				logger.FieldCount, deleted,
				"retention_days", e.settings.LogRetentionDays)
		}
	}

	sweep()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// EngineStatus is the snapshot returned by Status and served at /api/status.
type EngineStatus struct {
	Running       bool         `json:"running"`
	Version       version.Info `json:"version"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	Jobs          int          `json:"jobs"`
	ActiveRunners int          `json:"active_runners"`
	Memory        MemoryStats  `json:"memory"`
}

// MemoryStats reports host memory usage in the shape the dashboard expects.
type MemoryStats struct {
	UsedGB  float64 `json:"used_gb"`
	TotalGB float64 `json:"total_gb"`
	Percent float64 `json:"percent"`
}

// Status returns a point-in-time snapshot of the engine. It never fails;
// fields that cannot be read are left zero.
func (e *Engine) Status() *EngineStatus {
	status := &EngineStatus{Version: version.Get()}

	if v, err := mem.VirtualMemory(); err == nil && v.Total > 0 {
		used := v.Total - v.Available
		status.Memory = MemoryStats{
			UsedGB:  float64(used) / 1024 / 1024 / 1024,
			TotalGB: float64(v.Total) / 1024 / 1024 / 1024,
			Percent: float64(used) / float64(v.Total) * 100,
		}
	}

	e.mu.Lock()
	running := e.running
	st := e.store
	d := e.dispatcher
	startedAt := e.startedAt
	e.mu.Unlock()

	status.Running = running
	if !running {
		return status
	}

	status.UptimeSeconds = time.Since(startedAt).Seconds()
	status.ActiveRunners = d.RunnerCount()
	if count, err := st.CountJobs(); err == nil {
		status.Jobs = count
	}
	return status
}
