package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/maximiliancw/homeworq/errors"
)

// Cron is a parsed 5-field cron expression:
//
//	minute hour day-of-month month day-of-week
//
// Fields are comma-separated lists of tokens: "*", an integer, "a-b",
// or a step form "*/s", "a-b/s", "a/s" (a through the field maximum).
// Day-of-week runs 0-6 with 0 = Sunday. When both day-of-month and
// day-of-week are restricted, an instant must satisfy BOTH.
type Cron struct {
	expr   string
	minute uint64
	hour   uint64
	dom    uint64
	month  uint64
	dow    uint64
}

type cronBounds struct {
	name string
	min  int
	max  int
}

var (
	minuteBounds = cronBounds{"minute", 0, 59}
	hourBounds   = cronBounds{"hour", 0, 23}
	domBounds    = cronBounds{"day of month", 1, 31}
	monthBounds  = cronBounds{"month", 1, 12}
	dowBounds    = cronBounds{"day of week", 0, 6}
)

// ParseCron parses a cron expression. Malformed tokens and out-of-range
// values are rejected.
func ParseCron(expr string) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, errors.Wrapf(errors.ErrInvalidCron,
			"expected 5 fields (minute hour day month day-of-week), got %d in %q", len(fields), expr)
	}

	c := &Cron{expr: expr}
	var err error
	if c.minute, err = parseCronField(fields[0], minuteBounds); err != nil {
		return nil, err
	}
	if c.hour, err = parseCronField(fields[1], hourBounds); err != nil {
		return nil, err
	}
	if c.dom, err = parseCronField(fields[2], domBounds); err != nil {
		return nil, err
	}
	if c.month, err = parseCronField(fields[3], monthBounds); err != nil {
		return nil, err
	}
	if c.dow, err = parseCronField(fields[4], dowBounds); err != nil {
		return nil, err
	}
	return c, nil
}

// parseCronField resolves one field to a bitmask of allowed values.
func parseCronField(field string, b cronBounds) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		body, step, hasStep := part, 1, false
		if i := strings.IndexByte(part, '/'); i >= 0 {
			body = part[:i]
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return 0, errors.Wrapf(errors.ErrInvalidCron, "bad step %q in %s field", part, b.name)
			}
			step, hasStep = n, true
		}

		lo, hi := b.min, b.max
		switch {
		case body == "*":
			// full range
		case strings.Contains(body, "-"):
			limits := strings.SplitN(body, "-", 2)
			l, lerr := strconv.Atoi(limits[0])
			h, herr := strconv.Atoi(limits[1])
			if lerr != nil || herr != nil {
				return 0, errors.Wrapf(errors.ErrInvalidCron, "bad range %q in %s field", part, b.name)
			}
			lo, hi = l, h
		default:
			n, err := strconv.Atoi(body)
			if err != nil {
				return 0, errors.Wrapf(errors.ErrInvalidCron, "bad value %q in %s field", part, b.name)
			}
			lo = n
			if !hasStep {
				hi = n
			}
		}

		if lo < b.min || hi > b.max || lo > hi {
			return 0, errors.Wrapf(errors.ErrInvalidCron,
				"value out of range for %s (%d-%d): %q", b.name, b.min, b.max, part)
		}
		for v := lo; v <= hi; v += step {
			mask |= 1 << uint(v)
		}
	}
	if mask == 0 {
		return 0, errors.Wrapf(errors.ErrInvalidCron, "empty %s field", b.name)
	}
	return mask, nil
}

func bitSet(mask uint64, v int) bool {
	return mask&(1<<uint(v)) != 0
}

// String returns the original expression.
func (c *Cron) String() string { return c.expr }

// Next returns the first instant strictly after t that matches every
// field, at minute resolution, in UTC. Advancing a higher field resets
// the lower ones, so the result is the earliest match, never a skipped
// one. Returns the zero time when nothing matches within five years
// (e.g. "0 0 30 2 *").
func (c *Cron) Next(t time.Time) time.Time {
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)

	for t.Before(limit) {
		if !bitSet(c.month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
			continue
		}
		if !bitSet(c.dom, t.Day()) || !bitSet(c.dow, int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
			continue
		}
		if !bitSet(c.hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC).Add(time.Hour)
			continue
		}
		if !bitSet(c.minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
