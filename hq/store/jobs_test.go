package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/schedule"
	hqtest "github.com/maximiliancw/homeworq/internal/testing"
)

func TestCreateJob(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	timeout := 30
	maxRetries := 3
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	job := &Job{
		TaskName: "ping",
		Params:   map[string]interface{}{"url": "https://example.com"},
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
		Timeout:  &timeout,

		MaxRetries: &maxRetries,
		StartDate:  &start,
		EndDate:    &end,
	}

	err := store.CreateJob(job)
	require.NoError(t, err)

	// The store picks an id and stamps the audit columns
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.CreatedAt.IsZero())
	assert.False(t, job.UpdatedAt.IsZero())

	retrieved, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, job.ID, retrieved.ID)
	assert.Equal(t, "ping", retrieved.TaskName)
	assert.Equal(t, map[string]interface{}{"url": "https://example.com"}, retrieved.Params)
	assert.False(t, retrieved.Schedule.IsCron())
	assert.Equal(t, 1, retrieved.Schedule.Interval)
	assert.Equal(t, schedule.Hours, retrieved.Schedule.Unit)
	require.NotNil(t, retrieved.Timeout)
	assert.Equal(t, 30, *retrieved.Timeout)
	require.NotNil(t, retrieved.MaxRetries)
	assert.Equal(t, 3, *retrieved.MaxRetries)
	require.NotNil(t, retrieved.StartDate)
	assert.True(t, retrieved.StartDate.Equal(start))
	require.NotNil(t, retrieved.EndDate)
	assert.True(t, retrieved.EndDate.Equal(end))
	assert.Nil(t, retrieved.LastRun)
	assert.Nil(t, retrieved.NextRun)
	assert.True(t, retrieved.CreatedAt.Equal(job.CreatedAt))
}

func TestCreateJob_CronShape(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "process_data",
		Schedule: schedule.Spec{Cron: "0 2 * * *"},
	}
	require.NoError(t, store.CreateJob(job))

	retrieved, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.True(t, retrieved.Schedule.IsCron())
	assert.Equal(t, "0 2 * * *", retrieved.Schedule.Cron)
	assert.Zero(t, retrieved.Schedule.Interval)
	assert.Empty(t, retrieved.Schedule.Unit)
	assert.Nil(t, retrieved.Params)
	assert.Nil(t, retrieved.Timeout)
	assert.Nil(t, retrieved.MaxRetries)

	// The interval shape's columns must be NULL in the row itself
	var intervalNull, unitNull, atNull bool
	err = db.QueryRow(`
		SELECT schedule_interval IS NULL, schedule_unit IS NULL, schedule_at IS NULL
		FROM hq_jobs WHERE id = ?`, job.ID,
	).Scan(&intervalNull, &unitNull, &atNull)
	require.NoError(t, err)
	assert.True(t, intervalNull)
	assert.True(t, unitNull)
	assert.True(t, atNull)
}

func TestCreateJob_DailyAt(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "process_data",
		Params:   map[string]interface{}{"input_path": "/data", "batch_size": float64(1000)},
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Days, At: "02:00"},
	}
	require.NoError(t, store.CreateJob(job))

	retrieved, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, "02:00", retrieved.Schedule.At)
	assert.Equal(t, schedule.Days, retrieved.Schedule.Unit)
	assert.Equal(t, float64(1000), retrieved.Params["batch_size"])
}

func TestGetJob_Missing(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job, err := store.GetJob("no-such-job")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDefaultJobID(t *testing.T) {
	params := map[string]interface{}{
		"url":     "https://example.com",
		"options": map[string]interface{}{"retries": 3, "verbose": true},
	}

	id1, err := DefaultJobID("ping", params)
	require.NoError(t, err)
	id2, err := DefaultJobID("ping", params)
	require.NoError(t, err)

	// Stable across calls, 64 hex chars
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	// Different params or task yield a different identity
	other, err := DefaultJobID("ping", map[string]interface{}{"url": "https://other.example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	otherTask, err := DefaultJobID("pong", params)
	require.NoError(t, err)
	assert.NotEqual(t, id1, otherTask)

	// nil params hash like an empty params object
	nilID, err := DefaultJobID("ping", nil)
	require.NoError(t, err)
	emptyID, err := DefaultJobID("ping", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, emptyID, nilID)
}

func TestUpsertDefaultJob(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	timeout := 30
	declared := &Job{
		TaskName: "ping",
		Params:   map[string]interface{}{"url": "https://example.com"},
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
		Timeout:  &timeout,
	}

	first, err := store.UpsertDefaultJob(declared)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Len(t, first.ID, 64)

	// Simulate scheduler activity so we can check it survives the upsert
	lastRun := time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)
	nextRun := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateJobLastRun(first.ID, lastRun))
	require.NoError(t, store.UpdateJobNextRun(first.ID, &nextRun))

	// Re-declare the same {task, params} with a changed schedule and options
	redeclared := &Job{
		TaskName: "ping",
		Params:   map[string]interface{}{"url": "https://example.com"},
		Schedule: schedule.Spec{Interval: 2, Unit: schedule.Hours},
	}
	second, err := store.UpsertDefaultJob(redeclared)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Schedule.Interval)
	assert.Nil(t, second.Timeout, "options are replaced, not merged")
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	require.NotNil(t, second.LastRun)
	assert.True(t, second.LastRun.Equal(lastRun))
	require.NotNil(t, second.NextRun)
	assert.True(t, second.NextRun.Equal(nextRun))

	count, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Changing params changes the identity and leaves the old row in place
	variant := &Job{
		TaskName: "ping",
		Params:   map[string]interface{}{"url": "https://other.example.com"},
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
	}
	third, err := store.UpsertDefaultJob(variant)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	count, err = store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertDefaultJob_Idempotent(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	declare := func() (string, string) {
		ping, err := store.UpsertDefaultJob(&Job{
			TaskName: "ping",
			Params:   map[string]interface{}{"url": "https://example.com"},
			Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
		})
		require.NoError(t, err)
		report, err := store.UpsertDefaultJob(&Job{
			TaskName: "process_data",
			Params:   map[string]interface{}{"input_path": "/data"},
			Schedule: schedule.Spec{Interval: 1, Unit: schedule.Days, At: "02:00"},
		})
		require.NoError(t, err)
		return ping.ID, report.ID
	}

	pingID, reportID := declare()

	// Five restarts never add rows or move identities
	for i := 0; i < 5; i++ {
		p, r := declare()
		assert.Equal(t, pingID, p)
		assert.Equal(t, reportID, r)

		count, err := store.CountJobs()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	}
}

func TestUpsertDefaultJob_ShapeSwitch(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	params := map[string]interface{}{"url": "https://example.com"}

	first, err := store.UpsertDefaultJob(&Job{
		TaskName: "ping",
		Params:   params,
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Days, At: "09:00"},
	})
	require.NoError(t, err)

	second, err := store.UpsertDefaultJob(&Job{
		TaskName: "ping",
		Params:   params,
		Schedule: schedule.Spec{Cron: "0 9 * * *"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.Schedule.IsCron())

	// The interval shape's columns are nulled, not left behind
	var intervalNull, unitNull, atNull bool
	err = db.QueryRow(`
		SELECT schedule_interval IS NULL, schedule_unit IS NULL, schedule_at IS NULL
		FROM hq_jobs WHERE id = ?`, second.ID,
	).Scan(&intervalNull, &unitNull, &atNull)
	require.NoError(t, err)
	assert.True(t, intervalNull)
	assert.True(t, unitNull)
	assert.True(t, atNull)
}

func TestUpdateJob(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "ping",
		Params:   map[string]interface{}{"url": "https://example.com"},
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
	}
	require.NoError(t, store.CreateJob(job))

	// Patch a single option; everything else is untouched
	timeout := 60
	updated, err := store.UpdateJob(job.ID, JobPatch{Timeout: &timeout})
	require.NoError(t, err)
	require.NotNil(t, updated.Timeout)
	assert.Equal(t, 60, *updated.Timeout)
	assert.Equal(t, "ping", updated.TaskName)
	assert.Equal(t, 1, updated.Schedule.Interval)
	assert.Equal(t, map[string]interface{}{"url": "https://example.com"}, updated.Params)

	// Patch params and schedule together
	updated, err = store.UpdateJob(job.ID, JobPatch{
		Params:   map[string]interface{}{"url": "https://other.example.com"},
		Schedule: &schedule.Spec{Interval: 5, Unit: schedule.Minutes},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Schedule.Interval)
	assert.Equal(t, schedule.Minutes, updated.Schedule.Unit)
	assert.Equal(t, "https://other.example.com", updated.Params["url"])
	require.NotNil(t, updated.Timeout)
	assert.Equal(t, 60, *updated.Timeout, "earlier patch survives later ones")
}

func TestUpdateJob_ShapeSwitch(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "process_data",
		Schedule: schedule.Spec{Cron: "*/15 * * * *"},
	}
	require.NoError(t, store.CreateJob(job))

	nextRun := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateJobNextRun(job.ID, &nextRun))

	updated, err := store.UpdateJob(job.ID, JobPatch{
		Schedule: &schedule.Spec{Interval: 15, Unit: schedule.Minutes},
	})
	require.NoError(t, err)
	assert.False(t, updated.Schedule.IsCron())
	assert.Equal(t, 15, updated.Schedule.Interval)
	assert.Nil(t, updated.NextRun, "next_run computed for the old schedule must not survive")

	var cronNull bool
	err = db.QueryRow(`SELECT schedule_cron IS NULL FROM hq_jobs WHERE id = ?`, job.ID).Scan(&cronNull)
	require.NoError(t, err)
	assert.True(t, cronNull, "discarded cron shape must be nulled")
}

func TestUpdateJob_NotFound(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	timeout := 10
	_, err := store.UpdateJob("no-such-job", JobPatch{Timeout: &timeout})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDeleteJob(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "ping",
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
	}
	require.NoError(t, store.CreateJob(job))

	log := &Log{
		JobID:     &job.ID,
		Status:    StatusCompleted,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreateLog(log))

	require.NoError(t, store.DeleteJob(job.ID))

	gone, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// Logs cascade with the job
	orphan, err := store.GetLog(log.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestDeleteJob_NotFound(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	err := store.DeleteJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestListJobs(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	base := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	jobs := []*Job{
		{ID: "job-a", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, CreatedAt: base},
		{ID: "job-b", TaskName: "ping", Schedule: schedule.Spec{Interval: 2, Unit: schedule.Hours}, CreatedAt: base.Add(1 * time.Hour)},
		{ID: "job-c", TaskName: "process_data", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Days, At: "02:00"}, CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(job))
	}

	// All jobs, newest first
	all, err := store.ListJobs("", 100, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-c", all[0].ID)
	assert.Equal(t, "job-b", all[1].ID)
	assert.Equal(t, "job-a", all[2].ID)

	// Filter by task
	pings, err := store.ListJobs("ping", 100, 0)
	require.NoError(t, err)
	require.Len(t, pings, 2)
	assert.Equal(t, "job-b", pings[0].ID)
	assert.Equal(t, "job-a", pings[1].ID)

	// Pagination
	page, err := store.ListJobs("", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-b", page[0].ID)
	assert.Equal(t, "job-a", page[1].ID)
}

func TestListActiveJobs(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	past := time.Now().UTC().Add(-1 * time.Hour)
	future := time.Now().UTC().Add(24 * time.Hour)

	jobs := []*Job{
		{ID: "open-ended", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}},
		{ID: "still-live", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, EndDate: &future},
		{ID: "expired", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, EndDate: &past},
	}
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(job))
	}

	active, err := store.ListActiveJobs()
	require.NoError(t, err)
	require.Len(t, active, 2)

	ids := []string{active[0].ID, active[1].ID}
	assert.Contains(t, ids, "open-ended")
	assert.Contains(t, ids, "still-live")
}

func TestListUpcomingJobs(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	now := time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)
	soon := now.Add(10 * time.Minute)
	later := now.Add(2 * time.Hour)
	earlier := now.Add(-1 * time.Hour)

	jobs := []*Job{
		{ID: "due-later", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, NextRun: &later},
		{ID: "due-soon", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, NextRun: &soon},
		{ID: "overdue", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}, NextRun: &earlier},
		{ID: "never-ran", TaskName: "ping", Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}},
	}
	for _, job := range jobs {
		require.NoError(t, store.CreateJob(job))
	}

	upcoming, err := store.ListUpcomingJobs(now, 3)
	require.NoError(t, err)
	require.Len(t, upcoming, 2)
	assert.Equal(t, "due-soon", upcoming[0].ID)
	assert.Equal(t, "due-later", upcoming[1].ID)
}

func TestUpdateJobRunTimes(t *testing.T) {
	db := hqtest.CreateTestDB(t)
	store := NewStore(db)

	job := &Job{
		TaskName: "ping",
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
	}
	require.NoError(t, store.CreateJob(job))

	lastRun := time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)
	nextRun := time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpdateJobLastRun(job.ID, lastRun))
	require.NoError(t, store.UpdateJobNextRun(job.ID, &nextRun))

	retrieved, err := store.GetJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.LastRun)
	assert.True(t, retrieved.LastRun.Equal(lastRun))
	require.NotNil(t, retrieved.NextRun)
	assert.True(t, retrieved.NextRun.Equal(nextRun))

	// Clearing next_run is how a job past its end_date is parked
	require.NoError(t, store.UpdateJobNextRun(job.ID, nil))
	retrieved, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Nil(t, retrieved.NextRun)

	assert.True(t, errors.IsNotFoundError(store.UpdateJobLastRun("no-such-job", lastRun)))
	assert.True(t, errors.IsNotFoundError(store.UpdateJobNextRun("no-such-job", nil)))
}

func TestJobValidate(t *testing.T) {
	valid := &Job{
		TaskName: "ping",
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
	}
	require.NoError(t, valid.Validate())

	missingTask := &Job{Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours}}
	assert.True(t, errors.IsValidationError(missingTask.Validate()))

	badSchedule := &Job{TaskName: "ping", Schedule: schedule.Spec{Interval: 0, Unit: schedule.Hours}}
	assert.True(t, errors.IsValidationError(badSchedule.Validate()))

	zeroTimeout := 0
	badTimeout := &Job{
		TaskName: "ping",
		Schedule: schedule.Spec{Interval: 1, Unit: schedule.Hours},
		Timeout:  &zeroTimeout,
	}
	assert.True(t, errors.IsValidationError(badTimeout.Validate()))

	tooManyRetries := 11
	badRetries := &Job{
		TaskName:   "ping",
		Schedule:   schedule.Spec{Interval: 1, Unit: schedule.Hours},
		MaxRetries: &tooManyRetries,
	}
	assert.True(t, errors.IsValidationError(badRetries.Validate()))

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	endBeforeStart := start.Add(-1 * time.Hour)
	badDates := &Job{
		TaskName:  "ping",
		Schedule:  schedule.Spec{Interval: 1, Unit: schedule.Hours},
		StartDate: &start,
		EndDate:   &endBeforeStart,
	}
	assert.True(t, errors.IsValidationError(badDates.Validate()))
}
