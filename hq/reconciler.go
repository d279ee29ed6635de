package hq

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/maximiliancw/homeworq/config"
	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/schedule"
	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/logger"
)

// Reconciler materialises the default jobs declared in configuration. Each
// declaration maps to a deterministic job id derived from {task, params}, so
// reconciling the same set twice updates jobs in place instead of
// duplicating them. User-created jobs are never touched.
type Reconciler struct {
	store    *store.Store
	registry *task.Registry
	logger   *zap.SugaredLogger
}

func NewReconciler(st *store.Store, registry *task.Registry, log *zap.SugaredLogger) *Reconciler {
	if log == nil {
		log = logger.ComponentLogger("reconcile")
	}
	return &Reconciler{store: st, registry: registry, logger: log}
}

// Reconcile upserts every declared default job. An unknown task name or an
// invalid schedule aborts with an error so a misdeclared job set fails
// startup instead of half-applying.
func (rc *Reconciler) Reconcile(specs []config.JobSpec) error {
	for i := range specs {
		job, err := rc.materialize(&specs[i])
		if err != nil {
			return errors.Wrapf(err, "default job %d (task %q)", i, specs[i].Task)
		}
		upserted, err := rc.store.UpsertDefaultJob(job)
		if err != nil {
			return errors.Wrapf(err, "default job %d (task %q)", i, specs[i].Task)
		}
		rc.logger.Infow("Reconciled default job",
			logger.FieldJobID, upserted.ID,
			logger.FieldTask, upserted.TaskName,
			logger.FieldSchedule, upserted.Schedule.Describe())
	}
	return nil
}

// materialize converts one declared job into a validated store.Job.
func (rc *Reconciler) materialize(spec *config.JobSpec) (*store.Job, error) {
	if spec.Task == "" {
		return nil, errors.NewInvalidJobError("task name is required")
	}
	if !rc.registry.Has(spec.Task) {
		return nil, errors.Wrapf(errors.ErrTaskNotFound, "task not registered: %s", spec.Task)
	}

	sched, err := ParseScheduleValue(spec.Schedule)
	if err != nil {
		return nil, err
	}

	job := &store.Job{
		TaskName:   spec.Task,
		Params:     spec.Params,
		Schedule:   sched,
		Timeout:    spec.Timeout,
		MaxRetries: spec.MaxRetries,
	}

	if spec.StartDate != "" {
		t, err := parseJobDate(spec.StartDate)
		if err != nil {
			return nil, errors.NewInvalidJobError("invalid start_date: %s", spec.StartDate)
		}
		job.StartDate = &t
	}
	if spec.EndDate != "" {
		t, err := parseJobDate(spec.EndDate)
		if err != nil {
			return nil, errors.NewInvalidJobError("invalid end_date: %s", spec.EndDate)
		}
		job.EndDate = &t
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// ParseScheduleValue converts a loosely typed schedule value into a Spec.
// Configuration files hand over a string (cron) or a map (interval shape);
// code embedding the engine may pass a schedule.Spec directly.
func ParseScheduleValue(v interface{}) (schedule.Spec, error) {
	switch s := v.(type) {
	case schedule.Spec:
		return s, nil
	case *schedule.Spec:
		if s != nil {
			return *s, nil
		}
		return schedule.Spec{}, errors.Wrap(errors.ErrInvalidSchedule, "schedule is required")
	case nil:
		return schedule.Spec{}, errors.Wrap(errors.ErrInvalidSchedule, "schedule is required")
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return schedule.Spec{}, errors.Wrap(errors.ErrInvalidSchedule, "schedule must be a cron string or an interval table")
	}
	var spec schedule.Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return schedule.Spec{}, err
	}
	return spec, nil
}

// parseJobDate accepts RFC3339 with or without a time zone offset; bare
// timestamps are read as UTC.
func parseJobDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, errors.Newf("not a valid RFC3339 timestamp: %s", value)
	}
	return t.UTC(), nil
}
