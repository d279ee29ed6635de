package schedule

import (
	"time"

	"github.com/maximiliancw/homeworq/errors"
)

// NextRun computes the next fire time strictly after now, in UTC.
//
// For interval schedules a non-nil lastRun anchors the sequence: the
// result is the first lastRun + k*interval that lies after now. Missed
// occurrences are skipped, not replayed. Without lastRun the interval
// simply starts from now.
//
// Cron fire times have minute resolution.
func (s Spec) NextRun(now time.Time, lastRun *time.Time) (time.Time, error) {
	now = now.UTC()

	if s.Cron != "" {
		c, err := ParseCron(s.Cron)
		if err != nil {
			return time.Time{}, err
		}
		next := c.Next(now)
		if next.IsZero() {
			return time.Time{}, errors.Wrapf(errors.ErrInvalidCron, "%q never matches", s.Cron)
		}
		return next, nil
	}

	if s.Interval <= 0 {
		return time.Time{}, errors.Wrap(errors.ErrInvalidSchedule, "interval must be positive")
	}
	if !s.Unit.Valid() {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidSchedule, "unknown unit %q", string(s.Unit))
	}

	if s.At != "" {
		return s.nextAt(now)
	}
	return s.nextInterval(now, lastRun)
}

// nextAt handles the interval-with-at shape: the job fires at HH:MM UTC
// on its cadence day. Today's occurrence is used when still ahead,
// otherwise the interval pushes to the next cadence day.
func (s Spec) nextAt(now time.Time) (time.Time, error) {
	if s.Unit != Days && s.Unit != Weeks {
		return time.Time{}, errors.Wrapf(errors.ErrInvalidSchedule, "at-time requires unit days or weeks, got %s", string(s.Unit))
	}
	hour, minute, err := parseAt(s.At)
	if err != nil {
		return time.Time{}, err
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !next.After(now) {
		days := s.Interval
		if s.Unit == Weeks {
			days = s.Interval * 7
		}
		next = next.AddDate(0, 0, days)
	}
	return next, nil
}

// nextInterval handles the plain interval shape.
func (s Spec) nextInterval(now time.Time, lastRun *time.Time) (time.Time, error) {
	months := 0
	switch s.Unit {
	case Months:
		months = s.Interval
	case Years:
		months = s.Interval * 12
	}

	if lastRun == nil {
		if months > 0 {
			return addMonths(now, months), nil
		}
		d, _ := s.Unit.fixedDuration()
		return now.Add(time.Duration(s.Interval) * d), nil
	}

	anchor := lastRun.UTC()

	if months > 0 {
		// Calendar steps from the anchor, preserving its day-of-month
		// where the target month allows it.
		for k := 1; ; k++ {
			next := addMonths(anchor, k*months)
			if next.After(now) {
				return next, nil
			}
		}
	}

	d, _ := s.Unit.fixedDuration()
	step := time.Duration(s.Interval) * d
	elapsed := now.Sub(anchor)
	n := int64(elapsed / step)
	next := anchor.Add(time.Duration(n+1) * step)
	if !next.After(now) {
		next = next.Add(step)
	}
	return next, nil
}

// addMonths adds n calendar months, clamping the day to the last day of
// the target month (Jan 31 + 1 month = Feb 28, or Feb 29 in leap years).
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	m := int(month) - 1 + n
	year += m / 12
	month = time.Month(m%12 + 1)
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), time.UTC)
}

// daysInMonth returns the number of days in the given month.
func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
