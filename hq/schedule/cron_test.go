package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/errors"
)

func TestParseCron(t *testing.T) {
	t.Run("accepts standard forms", func(t *testing.T) {
		for _, expr := range []string{
			"* * * * *",
			"0 0 * * *",
			"*/15 * * * *",
			"0,30 9-17 * * 1-5",
			"10-30/5 * * * *",
			"20/10 * * * *",
			"59 23 31 12 6",
		} {
			_, err := ParseCron(expr)
			assert.NoError(t, err, "expr %q", expr)
		}
	})

	t.Run("rejects wrong field counts", func(t *testing.T) {
		for _, expr := range []string{"", "* * * *", "* * * * * *", "hourly"} {
			_, err := ParseCron(expr)
			require.Error(t, err, "expr %q", expr)
			assert.True(t, errors.Is(err, errors.ErrInvalidCron))
		}
	})

	t.Run("rejects out-of-range values", func(t *testing.T) {
		for _, expr := range []string{
			"60 * * * *",  // minute max 59
			"* 24 * * *",  // hour max 23
			"* * 0 * *",   // day min 1
			"* * 32 * *",  // day max 31
			"* * * 0 *",   // month min 1
			"* * * 13 *",  // month max 12
			"* * * * 7",   // day-of-week max 6
			"* * * * -1",  // negative
			"30-10 * * * *", // reversed range
		} {
			_, err := ParseCron(expr)
			require.Error(t, err, "expr %q", expr)
			assert.True(t, errors.Is(err, errors.ErrInvalidCron))
		}
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		for _, expr := range []string{
			"a * * * *",
			"1,,2 * * * *",
			"*/0 * * * *",
			"*/x * * * *",
			"1-2-3 * * * *",
		} {
			_, err := ParseCron(expr)
			require.Error(t, err, "expr %q", expr)
			assert.True(t, errors.Is(err, errors.ErrInvalidCron))
		}
	})
}

func TestCronNext(t *testing.T) {
	next := func(t *testing.T, expr string, after time.Time) time.Time {
		t.Helper()
		c, err := ParseCron(expr)
		require.NoError(t, err)
		return c.Next(after)
	}

	t.Run("quarter-hour sequence", func(t *testing.T) {
		c, err := ParseCron("*/15 * * * *")
		require.NoError(t, err)

		at := c.Next(utc(2025, time.June, 11, 14, 7, 30))
		assert.Equal(t, utc(2025, time.June, 11, 14, 15, 0), at)

		want := []time.Time{
			utc(2025, time.June, 11, 14, 30, 0),
			utc(2025, time.June, 11, 14, 45, 0),
			utc(2025, time.June, 11, 15, 0, 0),
		}
		for _, w := range want {
			at = c.Next(at)
			assert.Equal(t, w, at)
		}
	})

	t.Run("result is strictly after the reference", func(t *testing.T) {
		got := next(t, "*/15 * * * *", utc(2025, time.June, 11, 14, 15, 0))
		assert.Equal(t, utc(2025, time.June, 11, 14, 30, 0), got)
	})

	t.Run("daily at a fixed time", func(t *testing.T) {
		got := next(t, "0 2 * * *", utc(2025, time.June, 11, 3, 0, 0))
		assert.Equal(t, utc(2025, time.June, 12, 2, 0, 0), got)

		got = next(t, "0 2 * * *", utc(2025, time.June, 11, 1, 59, 59))
		assert.Equal(t, utc(2025, time.June, 11, 2, 0, 0), got)
	})

	t.Run("day-of-week with Sunday as zero", func(t *testing.T) {
		// 2025-06-11 is a Wednesday; next Monday is the 16th
		got := next(t, "30 9 * * 1", utc(2025, time.June, 11, 10, 0, 0))
		assert.Equal(t, utc(2025, time.June, 16, 9, 30, 0), got)

		// next Sunday is the 15th
		got = next(t, "0 12 * * 0", utc(2025, time.June, 11, 10, 0, 0))
		assert.Equal(t, utc(2025, time.June, 15, 12, 0, 0), got)
	})

	t.Run("day-of-month and day-of-week must both match", func(t *testing.T) {
		// Friday the 13th: the 13th of a month that is also a Friday
		got := next(t, "0 0 13 * 5", utc(2025, time.June, 1, 0, 0, 0))
		assert.Equal(t, utc(2025, time.June, 13, 0, 0, 0), got)
	})

	t.Run("year rollover", func(t *testing.T) {
		got := next(t, "59 23 31 12 *", utc(2025, time.December, 31, 23, 59, 30))
		assert.Equal(t, utc(2026, time.December, 31, 23, 59, 0), got)
	})

	t.Run("leap day waits for a leap year", func(t *testing.T) {
		got := next(t, "0 0 29 2 *", utc(2025, time.January, 1, 0, 0, 0))
		assert.Equal(t, utc(2028, time.February, 29, 0, 0, 0), got)
	})

	t.Run("comma lists", func(t *testing.T) {
		got := next(t, "0,30 * * * *", utc(2025, time.June, 11, 14, 7, 0))
		assert.Equal(t, utc(2025, time.June, 11, 14, 30, 0), got)
	})

	t.Run("step starting at a value runs to the field maximum", func(t *testing.T) {
		got := next(t, "20/10 * * * *", utc(2025, time.June, 11, 14, 7, 0))
		assert.Equal(t, utc(2025, time.June, 11, 14, 20, 0), got)

		got = next(t, "20/10 * * * *", utc(2025, time.June, 11, 14, 51, 0))
		assert.Equal(t, utc(2025, time.June, 11, 15, 20, 0), got)
	})

	t.Run("stepped range", func(t *testing.T) {
		c, err := ParseCron("10-30/5 * * * *")
		require.NoError(t, err)

		at := c.Next(utc(2025, time.June, 11, 14, 0, 0))
		var minutes []int
		for i := 0; i < 5; i++ {
			minutes = append(minutes, at.Minute())
			at = c.Next(at)
		}
		assert.Equal(t, []int{10, 15, 20, 25, 30}, minutes)
	})

	t.Run("impossible dates return the zero time", func(t *testing.T) {
		got := next(t, "0 0 30 2 *", utc(2025, time.January, 1, 0, 0, 0))
		assert.True(t, got.IsZero())
	})

	t.Run("no allowed instant is skipped", func(t *testing.T) {
		// Walk a mixed expression minute by minute and confirm Next always
		// lands on the very first matching instant.
		c, err := ParseCron("5,35 8-10 * * *")
		require.NoError(t, err)

		after := utc(2025, time.June, 11, 7, 50, 0)
		got := c.Next(after)
		for probe := after.Truncate(time.Minute).Add(time.Minute); probe.Before(got); probe = probe.Add(time.Minute) {
			m := probe.Minute()
			h := probe.Hour()
			matches := (m == 5 || m == 35) && h >= 8 && h <= 10
			assert.False(t, matches, "instant %s was skipped", probe)
		}
		assert.Equal(t, utc(2025, time.June, 11, 8, 5, 0), got)
	})
}
