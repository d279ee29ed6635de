package hq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/hq/store"
	hqtest "github.com/maximiliancw/homeworq/internal/testing"
	"github.com/maximiliancw/homeworq/logger"
)

func startTestDispatcher(t *testing.T, st *store.Store, ex *Executor) *Dispatcher {
	t.Helper()
	d := NewDispatcher(context.Background(), st, ex, 50*time.Millisecond, logger.ComponentLogger("test"))
	d.Start()
	t.Cleanup(d.Stop)
	return d
}

func TestDispatcher_SpawnsRunnersForActiveJobs(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	first := createExecutorJob(t, st, "echo", nil)
	second := createExecutorJob(t, st, "echo", nil)

	d := startTestDispatcher(t, st, NewExecutor(st, registry, nil, nil))

	waitFor(t, 3*time.Second, "both jobs to execute", func() bool {
		a, err := st.LastLog(first.ID)
		if err != nil || a == nil {
			return false
		}
		b, err := st.LastLog(second.ID)
		return err == nil && b != nil
	})
	assert.Equal(t, 2, d.RunnerCount())
}

func TestDispatcher_PicksUpNewJob(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	d := startTestDispatcher(t, st, NewExecutor(st, registry, nil, nil))
	assert.Equal(t, 0, d.RunnerCount())

	job := createExecutorJob(t, st, "echo", nil)

	waitFor(t, 3*time.Second, "new job to execute", func() bool {
		last, err := st.LastLog(job.ID)
		return err == nil && last != nil && last.Status == store.StatusCompleted
	})
}

func TestDispatcher_IgnoresExpiredJobs(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	past := time.Now().UTC().Add(-time.Hour)
	job := createExecutorJob(t, st, "echo", func(j *store.Job) {
		j.EndDate = &past
	})

	d := startTestDispatcher(t, st, NewExecutor(st, registry, nil, nil))

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, d.RunnerCount())
	last, err := st.LastLog(job.ID)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestDispatcher_StopRunnerRespawns(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	job := createExecutorJob(t, st, "echo", nil)

	d := startTestDispatcher(t, st, NewExecutor(st, registry, nil, nil))

	waitFor(t, 3*time.Second, "first execution", func() bool {
		last, err := st.LastLog(job.ID)
		return err == nil && last != nil
	})

	d.StopRunner(job.ID)

	// The job is still active, so the next beat brings a fresh runner
	waitFor(t, 2*time.Second, "runner respawn", func() bool {
		return d.RunnerCount() == 1
	})

	// The respawned runner respects the recorded next_run
	_, total, err := st.ListLogs(job.ID, "", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestDispatcher_StopWaitsForRunners(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)
	job := createExecutorJob(t, st, "echo", nil)

	d := NewDispatcher(context.Background(), st, NewExecutor(st, registry, nil, nil), 50*time.Millisecond, logger.ComponentLogger("test"))
	d.Start()

	waitFor(t, 3*time.Second, "execution", func() bool {
		last, err := st.LastLog(job.ID)
		return err == nil && last != nil
	})

	d.Stop()
	assert.Equal(t, 0, d.RunnerCount())
}

func TestDispatcher_Stats(t *testing.T) {
	st := store.NewStore(hqtest.CreateTestDB(t))
	registry := echoRegistry(t)

	d := startTestDispatcher(t, st, NewExecutor(st, registry, nil, nil))

	waitFor(t, 2*time.Second, "a few beats", func() bool {
		stats := d.Stats()
		beats, ok := stats["beats"].(int64)
		return ok && beats >= 2
	})

	stats := d.Stats()
	assert.Equal(t, 0, stats["active_runners"])
	assert.Equal(t, "50ms", stats["beat_interval"])
}
