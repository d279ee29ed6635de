package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/schedule"
)

// jobScanArgs holds the nullable column targets for scanning a job row
type jobScanArgs struct {
	Params           sql.NullString
	ScheduleInterval sql.NullInt64
	ScheduleUnit     sql.NullString
	ScheduleAt       sql.NullString
	ScheduleCron     sql.NullString
	Timeout          sql.NullInt64
	MaxRetries       sql.NullInt64
	StartDate        sql.NullTime
	EndDate          sql.NullTime
	LastRun          sql.NullTime
	NextRun          sql.NullTime
}

// jobScanTargets returns scan destinations in jobSelectColumns order
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.TaskName,
		&args.Params,
		&args.ScheduleInterval,
		&args.ScheduleUnit,
		&args.ScheduleAt,
		&args.ScheduleCron,
		&args.Timeout,
		&args.MaxRetries,
		&args.StartDate,
		&args.EndDate,
		&args.LastRun,
		&args.NextRun,
		&job.CreatedAt,
		&job.UpdatedAt,
	}
}

// processJobScanArgs moves the scanned nullable columns onto the job record
func processJobScanArgs(job *Job, args *jobScanArgs) error {
	if args.Params.Valid && args.Params.String != "" {
		if err := json.Unmarshal([]byte(args.Params.String), &job.Params); err != nil {
			return errors.Wrapf(err, "failed to unmarshal params for job %s", job.ID)
		}
	}

	// Reassemble the schedule from whichever shape's columns are set
	if args.ScheduleCron.Valid {
		job.Schedule = schedule.Spec{Cron: args.ScheduleCron.String}
	} else {
		job.Schedule = schedule.Spec{
			Interval: int(args.ScheduleInterval.Int64),
			Unit:     schedule.TimeUnit(args.ScheduleUnit.String),
		}
		if args.ScheduleAt.Valid {
			job.Schedule.At = args.ScheduleAt.String
		}
	}

	if args.Timeout.Valid {
		timeout := int(args.Timeout.Int64)
		job.Timeout = &timeout
	}
	if args.MaxRetries.Valid {
		retries := int(args.MaxRetries.Int64)
		job.MaxRetries = &retries
	}
	job.StartDate = timePtr(args.StartDate)
	job.EndDate = timePtr(args.EndDate)
	job.LastRun = timePtr(args.LastRun)
	job.NextRun = timePtr(args.NextRun)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	return nil
}

// scanJobRows scans a single job from sql.Rows (for use in loops)
func scanJobRows(rows *sql.Rows, job *Job) error {
	args := &jobScanArgs{}
	if err := rows.Scan(jobScanTargets(job, args)...); err != nil {
		return err
	}
	return processJobScanArgs(job, args)
}

// scanJobs is a helper that drains query rows into job records
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJobRows(rows, &job); err != nil {
			return nil, errors.WrapStoreFailure(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapStoreFailure(err, "error iterating "+context)
	}

	return jobs, nil
}

// jobSelectColumns returns the standard column list for job SELECT queries
func jobSelectColumns() string {
	return `id, task_name, params,
		schedule_interval, schedule_unit, schedule_at, schedule_cron,
		timeout, max_retries,
		start_date, end_date, last_run, next_run,
		created_at, updated_at`
}

// logScanArgs holds the nullable column targets for scanning a log row
type logScanArgs struct {
	JobID       sql.NullString
	CompletedAt sql.NullTime
	Duration    sql.NullFloat64
	Result      sql.NullString
	ErrorMsg    sql.NullString
}

// logScanTargets returns scan destinations in logSelectColumns order
func logScanTargets(log *Log, args *logScanArgs) []interface{} {
	return []interface{}{
		&log.ID,
		&args.JobID,
		&log.Status,
		&log.StartedAt,
		&args.CompletedAt,
		&args.Duration,
		&args.Result,
		&args.ErrorMsg,
		&log.Retries,
		&log.CreatedAt,
	}
}

// processLogScanArgs moves the scanned nullable columns onto the log record
func processLogScanArgs(log *Log, args *logScanArgs) error {
	if args.JobID.Valid {
		log.JobID = &args.JobID.String
	}
	log.CompletedAt = timePtr(args.CompletedAt)
	if args.Duration.Valid {
		log.Duration = &args.Duration.Float64
	}
	if args.Result.Valid && args.Result.String != "" {
		if err := json.Unmarshal([]byte(args.Result.String), &log.Result); err != nil {
			return errors.Wrapf(err, "failed to unmarshal result for log %d", log.ID)
		}
	}
	if args.ErrorMsg.Valid {
		log.Error = args.ErrorMsg.String
	}
	log.StartedAt = log.StartedAt.UTC()
	log.CreatedAt = log.CreatedAt.UTC()

	return nil
}

// scanLogRows scans a single log from sql.Rows (for use in loops)
func scanLogRows(rows *sql.Rows, log *Log) error {
	args := &logScanArgs{}
	if err := rows.Scan(logScanTargets(log, args)...); err != nil {
		return err
	}
	return processLogScanArgs(log, args)
}

// scanLogs is a helper that drains query rows into log records
func scanLogs(rows *sql.Rows, context string) ([]*Log, error) {
	var logs []*Log
	for rows.Next() {
		var log Log
		if err := scanLogRows(rows, &log); err != nil {
			return nil, errors.WrapStoreFailure(err, "failed to scan log")
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapStoreFailure(err, "error iterating "+context)
	}

	return logs, nil
}

// logSelectColumns returns the standard column list for log SELECT queries
func logSelectColumns() string {
	return `id, job_id, status, started_at, completed_at,
		duration, result, error, retries, created_at`
}

// timeString formats a timestamp the way every hq table stores it
func timeString(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// timePtr converts a scanned nullable timestamp to a UTC pointer
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

// nullableTime binds an optional timestamp, NULL when unset
func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return timeString(*t)
}

// nullableInt binds an optional integer, NULL when unset
func nullableInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

// nullableFloat binds an optional float, NULL when unset
func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

// scheduleBindArgs returns the four schedule column values for a spec, with
// the inactive shape's columns nil
func scheduleBindArgs(spec schedule.Spec) (interface{}, interface{}, interface{}, interface{}) {
	if spec.IsCron() {
		return nil, nil, nil, spec.Cron
	}
	var at interface{}
	if spec.At != "" {
		at = spec.At
	}
	return spec.Interval, string(spec.Unit), at, nil
}

// paramsJSON marshals job params for storage; nil params store as NULL
func paramsJSON(params map[string]interface{}) (interface{}, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return string(data), nil
}

// resultJSON marshals a task result for storage; nil stores as NULL
func resultJSON(result interface{}) (interface{}, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal result")
	}
	return string(data), nil
}
