package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maximiliancw/homeworq/errors"
)

// CreateJob inserts a new job. The store chooses a random id when the caller
// left it empty, and stamps created_at/updated_at on the record.
func (s *Store) CreateJob(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	params, err := paramsJSON(job.Params)
	if err != nil {
		return err
	}
	interval, unit, at, cron := scheduleBindArgs(job.Schedule)

	query := `
		INSERT INTO hq_jobs (
			id, task_name, params,
			schedule_interval, schedule_unit, schedule_at, schedule_cron,
			timeout, max_retries,
			start_date, end_date, last_run, next_run,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		job.ID,
		job.TaskName,
		params,
		interval,
		unit,
		at,
		cron,
		nullableInt(job.Timeout),
		nullableInt(job.MaxRetries),
		nullableTime(job.StartDate),
		nullableTime(job.EndDate),
		nullableTime(job.LastRun),
		nullableTime(job.NextRun),
		timeString(job.CreatedAt),
		timeString(job.UpdatedAt),
	)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to create job")
	}

	return nil
}

// UpsertDefaultJob reconciles a default job declared in code or config. The
// id is derived from {task, params}, so re-declaring the same pair updates
// the existing row in place: params, options, and schedule are replaced and
// the discarded schedule shape's columns are nulled, while last_run,
// next_run, and created_at are left alone.
func (s *Store) UpsertDefaultJob(job *Job) (*Job, error) {
	id, err := DefaultJobID(job.TaskName, job.Params)
	if err != nil {
		return nil, err
	}
	job.ID = id

	params, err := paramsJSON(job.Params)
	if err != nil {
		return nil, err
	}
	interval, unit, at, cron := scheduleBindArgs(job.Schedule)
	now := timeString(time.Now())

	query := `
		INSERT INTO hq_jobs (
			id, task_name, params,
			schedule_interval, schedule_unit, schedule_at, schedule_cron,
			timeout, max_retries,
			start_date, end_date,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_name = excluded.task_name,
			params = excluded.params,
			schedule_interval = excluded.schedule_interval,
			schedule_unit = excluded.schedule_unit,
			schedule_at = excluded.schedule_at,
			schedule_cron = excluded.schedule_cron,
			timeout = excluded.timeout,
			max_retries = excluded.max_retries,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			updated_at = excluded.updated_at
	`

	_, err = s.db.Exec(query,
		id,
		job.TaskName,
		params,
		interval,
		unit,
		at,
		cron,
		nullableInt(job.Timeout),
		nullableInt(job.MaxRetries),
		nullableTime(job.StartDate),
		nullableTime(job.EndDate),
		now,
		now,
	)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to upsert default job")
	}

	return s.GetJob(id)
}

// UpdateJob applies a partial update and returns the updated job. Nil patch
// fields are untouched. A schedule change writes all four schedule columns,
// so switching shapes nulls the columns of the shape being discarded.
func (s *Store) UpdateJob(id string, patch JobPatch) (*Job, error) {
	set := []string{"updated_at = ?"}
	args := []interface{}{timeString(time.Now())}

	if patch.Params != nil {
		params, err := paramsJSON(patch.Params)
		if err != nil {
			return nil, err
		}
		set = append(set, "params = ?")
		args = append(args, params)
	}
	if patch.Schedule != nil {
		interval, unit, at, cron := scheduleBindArgs(*patch.Schedule)
		set = append(set,
			"schedule_interval = ?",
			"schedule_unit = ?",
			"schedule_at = ?",
			"schedule_cron = ?",
			// A stale next_run belongs to the old schedule; clear it so the
			// runner recomputes against the new one
			"next_run = NULL",
		)
		args = append(args, interval, unit, at, cron)
	}
	if patch.Timeout != nil {
		set = append(set, "timeout = ?")
		args = append(args, *patch.Timeout)
	}
	if patch.MaxRetries != nil {
		set = append(set, "max_retries = ?")
		args = append(args, *patch.MaxRetries)
	}
	if patch.StartDate != nil {
		set = append(set, "start_date = ?")
		args = append(args, timeString(*patch.StartDate))
	}
	if patch.EndDate != nil {
		set = append(set, "end_date = ?")
		args = append(args, timeString(*patch.EndDate))
	}

	query := "UPDATE hq_jobs SET " + strings.Join(set, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to update job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to check rows affected")
	}
	if affected == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "job not found: %s", id)
	}

	return s.GetJob(id)
}

// DeleteJob removes a job; its logs cascade with it
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM hq_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to delete job")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job not found: %s", id)
	}

	return nil
}

// GetJob retrieves a job by id. Returns (nil, nil) when no such job exists.
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns() + ` FROM hq_jobs WHERE id = ?`

	var job Job
	args := &jobScanArgs{}

	err := s.db.QueryRow(query, id).Scan(jobScanTargets(&job, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to get job")
	}

	if err := processJobScanArgs(&job, args); err != nil {
		return nil, err
	}

	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by task name
func (s *Store) ListJobs(taskName string, limit, offset int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns() + ` FROM hq_jobs`
	var args []interface{}

	if taskName != "" {
		query += ` WHERE task_name = ?`
		args = append(args, taskName)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListActiveJobs returns jobs whose end_date is unset or still ahead. These
// are the jobs the dispatcher keeps runners for.
func (s *Store) ListActiveJobs() ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM hq_jobs
		WHERE end_date IS NULL OR end_date > ?
		ORDER BY created_at ASC`

	rows, err := s.db.Query(query, timeString(time.Now()))
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// ListUpcomingJobs returns jobs with a fire time after now, soonest first
func (s *Store) ListUpcomingJobs(now time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns() + `
		FROM hq_jobs
		WHERE next_run IS NOT NULL AND next_run > ?
		ORDER BY next_run ASC
		LIMIT ?`

	rows, err := s.db.Query(query, timeString(now), limit)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list upcoming jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "upcoming jobs")
}

// UpdateJobLastRun stamps the moment an execution started
func (s *Store) UpdateJobLastRun(id string, lastRun time.Time) error {
	result, err := s.db.Exec(
		`UPDATE hq_jobs SET last_run = ?, updated_at = ? WHERE id = ?`,
		timeString(lastRun), timeString(time.Now()), id,
	)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to update last run")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job not found: %s", id)
	}

	return nil
}

// UpdateJobNextRun records the next fire time, or clears it when the job has
// run past its end_date
func (s *Store) UpdateJobNextRun(id string, nextRun *time.Time) error {
	result, err := s.db.Exec(
		`UPDATE hq_jobs SET next_run = ?, updated_at = ? WHERE id = ?`,
		nullableTime(nextRun), timeString(time.Now()), id,
	)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to update next run")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to get rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "job not found: %s", id)
	}

	return nil
}

// CountJobs returns the number of jobs currently registered
func (s *Store) CountJobs() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM hq_jobs`).Scan(&count); err != nil {
		return 0, errors.WrapStoreFailure(err, "failed to count jobs")
	}
	return count, nil
}
