package hq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/logger"
)

// lockTable holds the per-job overlap locks, created on first use and
// dropped when the owning Runner terminates.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

// acquire try-locks the job's lock. ok is false when an execution already
// holds it; callers skip the fire rather than queue behind it.
func (lt *lockTable) acquire(jobID string) (release func(), ok bool) {
	lt.mu.Lock()
	l, exists := lt.locks[jobID]
	if !exists {
		l = &sync.Mutex{}
		lt.locks[jobID] = l
	}
	lt.mu.Unlock()

	if !l.TryLock() {
		return nil, false
	}
	return l.Unlock, true
}

func (lt *lockTable) drop(jobID string) {
	lt.mu.Lock()
	delete(lt.locks, jobID)
	lt.mu.Unlock()
}

// Dispatcher keeps one live Runner per active job. Each beat it lists the
// active jobs, spawns Runners for jobs that lack one, and reaps Runners that
// have finished. It never executes tasks itself.
type Dispatcher struct {
	store    *store.Store
	executor *Executor
	interval time.Duration
	locks    *lockTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners map[string]*Runner
	beats   int64

	logger *zap.SugaredLogger
}

// NewDispatcher creates a dispatcher whose runner contexts descend from ctx.
// Settings floor the beat interval at one second; this only guards against a
// non-positive duration.
func NewDispatcher(ctx context.Context, st *store.Store, ex *Executor, interval time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = logger.ComponentLogger("dispatcher")
	}
	dispatchCtx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		store:    st,
		executor: ex,
		interval: interval,
		locks:    newLockTable(),
		ctx:      dispatchCtx,
		cancel:   cancel,
		runners:  make(map[string]*Runner),
		logger:   log,
	}
}

// Start launches the beat loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	d.logger.Infow("Dispatcher started", "beat_interval", d.interval.String())
}

// Stop cancels the beat loop and every runner, then waits for them all to
// unwind. In-flight executions are cancelled and their logs finalised.
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()

	d.mu.Lock()
	runners := make([]*Runner, 0, len(d.runners))
	for _, r := range d.runners {
		runners = append(runners, r)
	}
	d.runners = make(map[string]*Runner)
	d.mu.Unlock()

	for _, r := range runners {
		r.wait()
	}
	d.logger.Infow("Dispatcher stopped")
}

// StopRunner cancels the runner for one job and waits for it to exit. If the
// job is still active the next beat spawns a fresh runner, which is how
// schedule updates take effect.
func (d *Dispatcher) StopRunner(jobID string) {
	d.mu.Lock()
	r, ok := d.runners[jobID]
	if ok {
		delete(d.runners, jobID)
	}
	d.mu.Unlock()

	if ok {
		r.stop()
		r.wait()
		d.logger.Debugw("Stopped runner", logger.FieldJobID, jobID)
	}
}

// RunnerCount returns the number of live runners.
func (d *Dispatcher) RunnerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, r := range d.runners {
		if !r.finished() {
			count++
		}
	}
	return count
}

// Stats returns a snapshot of dispatcher state for the status endpoint.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.Lock()
	beats := d.beats
	d.mu.Unlock()
	return map[string]interface{}{
		"active_runners": d.RunnerCount(),
		"beats":          beats,
		"beat_interval":  d.interval.String(),
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	// First beat immediately so startup jobs are not a full interval late
	d.beat()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.beat()
		}
	}
}

func (d *Dispatcher) beat() {
	jobs, err := d.store.ListActiveJobs()
	if err != nil {
		// Don't spam logs at error level on a transient store hiccup
		d.logger.Warnw("Beat failed to list active jobs", logger.FieldError, err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.beats++

	// Reap finished runners first so a replacement can spawn this same beat
	for id, r := range d.runners {
		if r.finished() {
			delete(d.runners, id)
		}
	}

	for _, job := range jobs {
		if _, alive := d.runners[job.ID]; alive {
			continue
		}
		r := newRunner(d.ctx, job.ID, d.store, d.executor, d.locks, d.logger)
		d.runners[job.ID] = r
		r.start()
		d.logger.Debugw("Spawned runner", logger.FieldJobID, job.ID, logger.FieldTask, job.TaskName)
	}
}
