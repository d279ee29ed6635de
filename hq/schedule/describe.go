package schedule

import (
	"fmt"
	"strings"
)

var monthNames = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
var dayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// Describe renders the schedule for humans: "Every 2 hours",
// "Every day at 09:30", or for cron something like
// "At 00:00 on day 1 in Jan". Invalid schedules render as-is.
func (s Spec) Describe() string {
	if s.Cron != "" {
		c, err := ParseCron(s.Cron)
		if err != nil {
			return s.Cron
		}
		return c.describe()
	}

	unit := string(s.Unit)
	if s.Interval == 1 {
		singular := strings.TrimSuffix(unit, "s")
		if s.At != "" {
			return fmt.Sprintf("Every %s at %s", singular, s.At)
		}
		return fmt.Sprintf("Every %s", singular)
	}
	if s.At != "" {
		return fmt.Sprintf("Every %d %s at %s", s.Interval, unit, s.At)
	}
	return fmt.Sprintf("Every %d %s", s.Interval, unit)
}

func (c *Cron) describe() string {
	minutes := maskValues(c.minute, minuteBounds)
	hours := maskValues(c.hour, hourBounds)
	doms := maskValues(c.dom, domBounds)
	months := maskValues(c.month, monthBounds)
	dows := maskValues(c.dow, dowBounds)

	anyMinute := len(minutes) == 60
	anyHour := len(hours) == 24
	anyDom := len(doms) == 31
	anyMonth := len(months) == 12
	anyDow := len(dows) == 7

	var parts []string

	switch {
	case anyMinute && anyHour:
		parts = append(parts, "Every minute")
	case anyHour:
		parts = append(parts, fmt.Sprintf("At minute %s of every hour", joinInts(minutes)))
	case len(minutes) == 1 && len(hours) == 1:
		if minutes[0] == 0 && hours[0] == 0 {
			parts = append(parts, "At midnight")
		} else if minutes[0] == 0 && hours[0] == 12 {
			parts = append(parts, "At noon")
		} else {
			parts = append(parts, fmt.Sprintf("At %02d:%02d", hours[0], minutes[0]))
		}
	case anyMinute:
		parts = append(parts, fmt.Sprintf("Every minute of hour %s", joinInts(hours)))
	default:
		parts = append(parts, fmt.Sprintf("At minute %s of hour %s", joinInts(minutes), joinInts(hours)))
	}

	if !anyDow {
		parts = append(parts, fmt.Sprintf("on %s", joinNames(dows, dayNames, 0)))
	}
	if !anyDom {
		parts = append(parts, fmt.Sprintf("on day %s", joinInts(doms)))
	}
	if !anyMonth {
		parts = append(parts, fmt.Sprintf("in %s", joinNames(months, monthNames, 1)))
	}

	return strings.Join(parts, " ")
}

// maskValues expands a field bitmask back into its sorted values.
func maskValues(mask uint64, b cronBounds) []int {
	var values []int
	for v := b.min; v <= b.max; v++ {
		if bitSet(mask, v) {
			values = append(values, v)
		}
	}
	return values
}

func joinInts(values []int) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprintf("%d", v)
	}
	return joinList(strs)
}

func joinNames(values []int, names []string, offset int) string {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = names[v-offset]
	}
	return joinList(strs)
}

// joinList renders "a", "a and b", or "a, b, and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", and " + items[len(items)-1]
	}
}
