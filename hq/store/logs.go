package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/maximiliancw/homeworq/errors"
)

// CreateLog inserts a new execution log and fills in its assigned id
func (s *Store) CreateLog(log *Log) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	result, err := resultJSON(log.Result)
	if err != nil {
		return err
	}

	var jobID, errorMsg interface{}
	if log.JobID != nil {
		jobID = *log.JobID
	}
	if log.Error != "" {
		errorMsg = log.Error
	}

	query := `
		INSERT INTO hq_logs (
			job_id, status, started_at, completed_at,
			duration, result, error, retries, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.Exec(query,
		jobID,
		string(log.Status),
		timeString(log.StartedAt),
		nullableTime(log.CompletedAt),
		nullableFloat(log.Duration),
		result,
		errorMsg,
		log.Retries,
		timeString(log.CreatedAt),
	)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to create log")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to get log id")
	}
	log.ID = id

	return nil
}

// UpdateLog finalises an execution log
func (s *Store) UpdateLog(log *Log) error {
	result, err := resultJSON(log.Result)
	if err != nil {
		return err
	}

	var errorMsg interface{}
	if log.Error != "" {
		errorMsg = log.Error
	}

	query := `
		UPDATE hq_logs
		SET status = ?,
		    completed_at = ?,
		    duration = ?,
		    result = ?,
		    error = ?,
		    retries = ?
		WHERE id = ?
	`

	res, err := s.db.Exec(query,
		string(log.Status),
		nullableTime(log.CompletedAt),
		nullableFloat(log.Duration),
		result,
		errorMsg,
		log.Retries,
		log.ID,
	)
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to update log")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WrapStoreFailure(err, "failed to check rows affected")
	}
	if affected == 0 {
		return errors.Wrapf(errors.ErrNotFound, "log not found: %d", log.ID)
	}

	return nil
}

// GetLog retrieves a log by id. Returns (nil, nil) when no such log exists.
func (s *Store) GetLog(id int64) (*Log, error) {
	query := `SELECT ` + logSelectColumns() + ` FROM hq_logs WHERE id = ?`

	var log Log
	args := &logScanArgs{}

	err := s.db.QueryRow(query, id).Scan(logScanTargets(&log, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to get log")
	}

	if err := processLogScanArgs(&log, args); err != nil {
		return nil, err
	}

	return &log, nil
}

// LastLog returns the most recent log for a job, or (nil, nil) when the job
// has never run. The id tie-break keeps ordering stable for logs that share
// a start second.
func (s *Store) LastLog(jobID string) (*Log, error) {
	query := `SELECT ` + logSelectColumns() + `
		FROM hq_logs
		WHERE job_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`

	var log Log
	args := &logScanArgs{}

	err := s.db.QueryRow(query, jobID).Scan(logScanTargets(&log, args)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to get last log")
	}

	if err := processLogScanArgs(&log, args); err != nil {
		return nil, err
	}

	return &log, nil
}

// ListLogs returns logs newest first plus the total row count for the
// filter, for paginated API responses
func (s *Store) ListLogs(jobID string, status string, limit, offset int) ([]*Log, int, error) {
	var whereClauses []string
	var args []interface{}

	if jobID != "" {
		whereClauses = append(whereClauses, "job_id = ?")
		args = append(args, jobID)
	}
	if status != "" {
		whereClauses = append(whereClauses, "status = ?")
		args = append(args, status)
	}

	baseQuery := ` FROM hq_logs`
	if len(whereClauses) > 0 {
		baseQuery += ` WHERE ` + strings.Join(whereClauses, " AND ")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*)`+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.WrapStoreFailure(err, "failed to count logs")
	}

	query := `SELECT ` + logSelectColumns() + baseQuery + `
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, errors.WrapStoreFailure(err, "failed to list logs")
	}
	defer rows.Close()

	logs, err := scanLogs(rows, "logs")
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// ListRecentLogs returns the most recently started logs
func (s *Store) ListRecentLogs(limit int) ([]*Log, error) {
	query := `SELECT ` + logSelectColumns() + `
		FROM hq_logs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list recent logs")
	}
	defer rows.Close()

	return scanLogs(rows, "recent logs")
}

// ListLogsSince returns logs started after the cutoff, oldest first
func (s *Store) ListLogsSince(since time.Time, limit int) ([]*Log, error) {
	query := `SELECT ` + logSelectColumns() + `
		FROM hq_logs
		WHERE started_at > ?
		ORDER BY started_at ASC, id ASC
		LIMIT ?`

	rows, err := s.db.Query(query, timeString(since), limit)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list logs since cutoff")
	}
	defer rows.Close()

	return scanLogs(rows, "logs since cutoff")
}

// ListRunningLogs returns logs still marked running. After a crash these are
// the executions the engine finalises as failed on startup.
func (s *Store) ListRunningLogs() ([]*Log, error) {
	query := `SELECT ` + logSelectColumns() + `
		FROM hq_logs
		WHERE status = ?
		ORDER BY started_at ASC`

	rows, err := s.db.Query(query, string(StatusRunning))
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to list running logs")
	}
	defer rows.Close()

	return scanLogs(rows, "running logs")
}

// HasRunningLog reports whether a job has an execution in flight
func (s *Store) HasRunningLog(jobID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM hq_logs WHERE job_id = ? AND status = ?)`,
		jobID, string(StatusRunning),
	).Scan(&exists)
	if err != nil {
		return false, errors.WrapStoreFailure(err, "failed to check for running log")
	}
	return exists, nil
}

// CountLogs returns the total number of logs and how many of them failed
func (s *Store) CountLogs() (int, int, error) {
	var total, failed int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM hq_logs`,
		string(StatusFailed),
	).Scan(&total, &failed)
	if err != nil {
		return 0, 0, errors.WrapStoreFailure(err, "failed to count logs")
	}
	return total, failed, nil
}

// TaskDistribution aggregates outcomes per task over the most recent logs.
// Ad-hoc logs without a job carry no task and are excluded.
func (s *Store) TaskDistribution(limit int) ([]TaskStats, error) {
	query := `
		SELECT j.task_name,
		       COUNT(*),
		       SUM(CASE WHEN l.status = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN l.status = ? THEN 1 ELSE 0 END)
		FROM (
			SELECT job_id, status FROM hq_logs ORDER BY started_at DESC LIMIT ?
		) l
		JOIN hq_jobs j ON j.id = l.job_id
		GROUP BY j.task_name
		ORDER BY j.task_name
	`

	rows, err := s.db.Query(query, string(StatusCompleted), string(StatusFailed), limit)
	if err != nil {
		return nil, errors.WrapStoreFailure(err, "failed to aggregate task distribution")
	}
	defer rows.Close()

	var stats []TaskStats
	for rows.Next() {
		var st TaskStats
		if err := rows.Scan(&st.Task, &st.Total, &st.Completed, &st.Failed); err != nil {
			return nil, errors.WrapStoreFailure(err, "failed to scan task stats")
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStoreFailure(err, "error iterating task stats")
	}

	return stats, nil
}

// CleanupOldLogs deletes logs created more than ageDays ago. Returns the
// number of rows removed.
func (s *Store) CleanupOldLogs(ageDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ageDays)

	result, err := s.db.Exec(`DELETE FROM hq_logs WHERE created_at < ?`, timeString(cutoff))
	if err != nil {
		return 0, errors.WrapStoreFailure(err, "failed to cleanup old logs")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.WrapStoreFailure(err, "failed to get rows affected")
	}

	return int(deleted), nil
}
