// Package schedule defines job recurrence and computes fire times.
//
// A schedule has exactly one of two shapes:
//
//	{"interval": 2, "unit": "hours"}                 interval
//	{"interval": 1, "unit": "days", "at": "02:00"}   interval with at-time
//	"*/15 * * * *"                                   cron
//
// All computation is in UTC. Fire times are strictly in the future
// relative to the reference instant.
package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/maximiliancw/homeworq/errors"
)

// TimeUnit is the unit of an interval schedule.
type TimeUnit string

const (
	Seconds TimeUnit = "seconds"
	Minutes TimeUnit = "minutes"
	Hours   TimeUnit = "hours"
	Days    TimeUnit = "days"
	Weeks   TimeUnit = "weeks"
	Months  TimeUnit = "months"
	Years   TimeUnit = "years"
)

// Valid reports whether u is a known unit.
func (u TimeUnit) Valid() bool {
	switch u {
	case Seconds, Minutes, Hours, Days, Weeks, Months, Years:
		return true
	}
	return false
}

// fixedDuration returns the length of one unit for units of fixed
// length. Months and years are calendar-aware and report false.
func (u TimeUnit) fixedDuration() (time.Duration, bool) {
	switch u {
	case Seconds:
		return time.Second, true
	case Minutes:
		return time.Minute, true
	case Hours:
		return time.Hour, true
	case Days:
		return 24 * time.Hour, true
	case Weeks:
		return 7 * 24 * time.Hour, true
	}
	return 0, false
}

// Spec is a job's recurrence rule. Exactly one shape is set: Cron holds
// a 5-field expression, otherwise Interval/Unit (+ optional At) apply.
type Spec struct {
	Interval int
	Unit     TimeUnit
	At       string // "HH:MM" UTC, only with Days or Weeks
	Cron     string
}

// intervalJSON is the wire form of the interval shape.
type intervalJSON struct {
	Interval int      `json:"interval"`
	Unit     TimeUnit `json:"unit"`
	At       string   `json:"at,omitempty"`
}

// MarshalJSON encodes cron schedules as a bare string and interval
// schedules as an object, matching the config file and API forms.
func (s Spec) MarshalJSON() ([]byte, error) {
	if s.Cron != "" {
		return json.Marshal(s.Cron)
	}
	return json.Marshal(intervalJSON{Interval: s.Interval, Unit: s.Unit, At: s.At})
}

// UnmarshalJSON accepts either wire form.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var cron string
	if err := json.Unmarshal(data, &cron); err == nil {
		*s = Spec{Cron: cron}
		return nil
	}
	var iv intervalJSON
	if err := json.Unmarshal(data, &iv); err != nil {
		return errors.Wrap(errors.ErrInvalidSchedule, "schedule must be an object or a cron string")
	}
	*s = Spec{Interval: iv.Interval, Unit: iv.Unit, At: iv.At}
	return nil
}

// IsCron reports whether the schedule uses the cron shape.
func (s Spec) IsCron() bool { return s.Cron != "" }

// IsZero reports whether no shape is set at all.
func (s Spec) IsZero() bool {
	return s.Cron == "" && s.Interval == 0 && s.Unit == "" && s.At == ""
}

// Validate checks the schedule and normalizes the at-time to zero-padded
// HH:MM ("9:5" becomes "09:05"). Cron expressions are parsed in full so
// malformed fields are rejected at definition time, not at fire time.
func (s *Spec) Validate() error {
	if s.Cron != "" {
		if s.Interval != 0 || s.Unit != "" || s.At != "" {
			return errors.Wrap(errors.ErrInvalidSchedule, "cron and interval shapes are mutually exclusive")
		}
		_, err := ParseCron(s.Cron)
		return err
	}

	if s.Interval <= 0 {
		return errors.Wrap(errors.ErrInvalidSchedule, "interval must be positive")
	}
	if !s.Unit.Valid() {
		return errors.Wrapf(errors.ErrInvalidSchedule, "unknown unit %q", string(s.Unit))
	}
	if s.At != "" {
		if s.Unit != Days && s.Unit != Weeks {
			return errors.Wrapf(errors.ErrInvalidSchedule, "at-time requires unit days or weeks, got %s", string(s.Unit))
		}
		normalized, err := NormalizeAt(s.At)
		if err != nil {
			return err
		}
		s.At = normalized
	}
	return nil
}

// NormalizeAt validates an "HH:MM" wall-clock time and zero-pads it.
func NormalizeAt(at string) (string, error) {
	hour, minute, err := parseAt(at)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func parseAt(at string) (hour, minute int, err error) {
	parts := strings.Split(at, ":")
	if len(parts) == 2 {
		h, herr := strconv.Atoi(parts[0])
		m, merr := strconv.Atoi(parts[1])
		if herr == nil && merr == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			return h, m, nil
		}
	}
	return 0, 0, errors.Wrapf(errors.ErrInvalidSchedule, "'at' must be in HH:MM format (00:00-23:59), got %q", at)
}
