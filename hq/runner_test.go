package hq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/hq/schedule"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/hq/task"
	hqtest "github.com/maximiliancw/homeworq/internal/testing"
	"github.com/maximiliancw/homeworq/logger"
)

// waitFor polls cond every 10ms until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func echoRegistry(t *testing.T) *task.Registry {
	t.Helper()
	registry := task.NewRegistry()
	registry.MustRegister("echo", "Echo", "", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		return "ok", nil
	})
	return registry
}

func startTestRunner(t *testing.T, st *store.Store, registry *task.Registry, jobID string) *Runner {
	t.Helper()
	ex := NewExecutor(st, registry, nil, nil)
	ex.backoff = func(int) time.Duration { return time.Millisecond }
	r := newRunner(context.Background(), jobID, st, ex, newLockTable(), logger.ComponentLogger("test"))
	r.start()
	t.Cleanup(func() {
		r.stop()
		r.wait()
	})
	return r
}

func TestRunner_FirstRunImmediate(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	job := createExecutorJob(t, st, "echo", nil)

	startTestRunner(t, st, registry, job.ID)

	waitFor(t, 3*time.Second, "first execution", func() bool {
		last, err := st.LastLog(job.ID)
		return err == nil && last != nil && last.Status == store.StatusCompleted
	})

	// The next fire lands one schedule interval after the run
	fresh, err := st.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, fresh.NextRun)
	require.NotNil(t, fresh.LastRun)
	assert.True(t, fresh.NextRun.After(time.Now().UTC()))
	expected := fresh.LastRun.Add(time.Hour)
	assert.WithinDuration(t, expected, *fresh.NextRun, 2*time.Second)
}

func TestRunner_ExitsWhenJobDeleted(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	job := createExecutorJob(t, st, "echo", nil)
	require.NoError(t, st.DeleteJob(job.ID))

	r := startTestRunner(t, st, registry, job.ID)

	waitFor(t, 2*time.Second, "runner exit", r.finished)

	last, err := st.LastLog(job.ID)
	require.NoError(t, err)
	assert.Nil(t, last, "a deleted job must not execute")
}

func TestRunner_ExitsPastEndDate(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	past := time.Now().UTC().Add(-time.Hour)
	job := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.EndDate = &past
	})
	stale := past.Add(-time.Hour)
	require.NoError(t, st.UpdateJobNextRun(job.ID, &stale))

	r := startTestRunner(t, st, registry, job.ID)

	waitFor(t, 2*time.Second, "runner exit", r.finished)

	fresh, err := st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.NextRun, "an expired job is parked with no next run")
	last, err := st.LastLog(job.ID)
	require.NoError(t, err)
	assert.Nil(t, last, "no execution outside the date window")
}

func TestRunner_WaitsForStartDate(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	future := time.Now().UTC().Add(time.Hour)
	job := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.StartDate = &future
	})

	startTestRunner(t, st, registry, job.ID)

	time.Sleep(300 * time.Millisecond)
	last, err := st.LastLog(job.ID)
	require.NoError(t, err)
	assert.Nil(t, last, "no execution before the start date")
}

func TestRunner_SkipsWhileExecutionRunning(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	job := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.Schedule = schedule.Spec{Interval: 1, Unit: schedule.Seconds}
	})

	// Seed an execution that is still in flight
	started := time.Now().UTC().Truncate(time.Second)
	inflight := &store.Log{JobID: &job.ID, Status: store.StatusRunning, StartedAt: started}
	require.NoError(t, st.CreateLog(inflight))
	due := time.Now().UTC().Add(-time.Second)
	require.NoError(t, st.UpdateJobNextRun(job.ID, &due))

	startTestRunner(t, st, registry, job.ID)

	time.Sleep(600 * time.Millisecond)
	_, total, err := st.ListLogs(job.ID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "a due fire is skipped while an execution is running")

	// Once it finalises, the runner picks the job back up
	completed := time.Now().UTC().Truncate(time.Second)
	duration := 0.5
	inflight.Status = store.StatusCompleted
	inflight.CompletedAt = &completed
	inflight.Duration = &duration
	require.NoError(t, st.UpdateLog(inflight))

	waitFor(t, 4*time.Second, "execution after the running log clears", func() bool {
		_, total, err := st.ListLogs(job.ID, "", 10, 0)
		return err == nil && total >= 2
	})
}

func TestRunner_StopCancelsInFlight(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := task.NewRegistry()
	registry.MustRegister("blocking", "Blocking", "", func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	job := createExecutorJob(t, st, "blocking", nil)

	r := startTestRunner(t, st, registry, job.ID)

	waitFor(t, 3*time.Second, "execution to start", func() bool {
		running, err := st.HasRunningLog(job.ID)
		return err == nil && running
	})

	r.stop()
	r.wait()

	last, err := st.LastLog(job.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, store.StatusFailed, last.Status)
	assert.Equal(t, "cancelled", last.Error)
	require.NotNil(t, last.CompletedAt)
}

func TestRunner_CanRun(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	ex := NewExecutor(st, registry, nil, nil)
	r := newRunner(context.Background(), "probe", st, ex, newLockTable(), logger.ComponentLogger("test"))

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	fresh := createExecutorJob(t, st, "echo", nil)
	ok, err := r.canRun(fresh, now)
	require.NoError(t, err)
	assert.True(t, ok, "a job that never ran fires immediately")

	dueLater := createExecutorJob(t, st, "echo", nil)
	require.NoError(t, st.UpdateJobNextRun(dueLater.ID, &future))
	dueLater, err = st.GetJob(dueLater.ID)
	require.NoError(t, err)
	ok, err = r.canRun(dueLater, now)
	require.NoError(t, err)
	assert.False(t, ok, "next_run in the future blocks firing")

	dueNow := createExecutorJob(t, st, "echo", nil)
	require.NoError(t, st.UpdateJobNextRun(dueNow.ID, &past))
	dueNow, err = st.GetJob(dueNow.ID)
	require.NoError(t, err)
	ok, err = r.canRun(dueNow, now)
	require.NoError(t, err)
	assert.True(t, ok, "an elapsed next_run fires")

	notStarted := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.StartDate = &future
	})
	ok, err = r.canRun(notStarted, now)
	require.NoError(t, err)
	assert.False(t, ok, "start_date in the future blocks firing")

	ended := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.EndDate = &past
	})
	ok, err = r.canRun(ended, now)
	require.NoError(t, err)
	assert.False(t, ok, "end_date in the past blocks firing")

	overlapped := createExecutorJob(t, st, "echo", nil)
	running := &store.Log{JobID: &overlapped.ID, Status: store.StatusRunning, StartedAt: now}
	require.NoError(t, st.CreateLog(running))
	require.NoError(t, st.UpdateJobNextRun(overlapped.ID, &past))
	overlapped, err = st.GetJob(overlapped.ID)
	require.NoError(t, err)
	ok, err = r.canRun(overlapped, now)
	require.NoError(t, err)
	assert.False(t, ok, "a running execution blocks firing")

	ranOnce := createExecutorJob(t, st, "echo", nil)
	startedAt := now.Add(-time.Hour).Truncate(time.Second)
	completedAt := startedAt.Add(time.Second)
	duration := 1.0
	done := &store.Log{JobID: &ranOnce.ID, Status: store.StatusRunning, StartedAt: startedAt}
	require.NoError(t, st.CreateLog(done))
	done.Status = store.StatusCompleted
	done.CompletedAt = &completedAt
	done.Duration = &duration
	require.NoError(t, st.UpdateLog(done))
	ok, err = r.canRun(ranOnce, now)
	require.NoError(t, err)
	assert.False(t, ok, "no next_run plus history waits for a reschedule")
}

func TestRunner_RescheduleParksPastEndDate(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	ex := NewExecutor(st, registry, nil, nil)
	r := newRunner(context.Background(), "probe", st, ex, newLockTable(), logger.ComponentLogger("test"))

	// Weekly schedule with the window closing before the next fire
	end := time.Now().UTC().Add(48 * time.Hour)
	job := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.Schedule = schedule.Spec{Interval: 1, Unit: schedule.Weeks}
		j.EndDate = &end
	})
	lastRun := time.Now().UTC().Add(-time.Minute)

	next, err := r.reschedule(job, &lastRun)
	require.NoError(t, err)
	assert.Nil(t, next)

	fresh, err := st.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, fresh.NextRun)
}

func TestLockTable(t *testing.T) {
	lt := newLockTable()

	release, ok := lt.acquire("job-1")
	require.True(t, ok)

	_, ok = lt.acquire("job-1")
	assert.False(t, ok, "a held lock is not reacquirable")

	otherRelease, ok := lt.acquire("job-2")
	require.True(t, ok, "locks are per job")
	otherRelease()

	release()
	release, ok = lt.acquire("job-1")
	require.True(t, ok, "released locks are reacquirable")
	release()

	lt.drop("job-1")
	release, ok = lt.acquire("job-1")
	require.True(t, ok, "dropped entries are recreated on demand")
	release()
}
