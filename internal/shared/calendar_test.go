package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedCalendar(t *testing.T, instant time.Time) *Calendar {
	t.Helper()
	cal, err := NewCalendar(DefaultTimezone)
	require.NoError(t, err)
	return cal.WithNow(func() time.Time { return instant })
}

func TestTodayUsesBusinessTimezone(t *testing.T) {
	// 2025-02-02 04:30 UTC is still 2025-02-01 in Mexico City (UTC-6).
	cal := fixedCalendar(t, time.Date(2025, 2, 2, 4, 30, 0, 0, time.UTC))
	require.Equal(t, "2025-02-01", cal.Today())
}

func TestAddDays(t *testing.T) {
	cal, err := NewCalendar(DefaultTimezone)
	require.NoError(t, err)

	got, err := cal.AddDays("2025-03-01", 10)
	require.NoError(t, err)
	require.Equal(t, "2025-03-11", got)

	// Month and year boundaries.
	got, err = cal.AddDays("2025-12-30", 5)
	require.NoError(t, err)
	require.Equal(t, "2026-01-04", got)

	// Leap day.
	got, err = cal.AddDays("2024-02-28", 1)
	require.NoError(t, err)
	require.Equal(t, "2024-02-29", got)

	_, err = cal.AddDays("not-a-date", 1)
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestDaysBetween(t *testing.T) {
	cal, err := NewCalendar(DefaultTimezone)
	require.NoError(t, err)

	days, err := cal.DaysBetween("2025-02-01", "2025-02-15")
	require.NoError(t, err)
	require.Equal(t, 14, days)

	days, err = cal.DaysBetween("2025-02-15", "2025-02-15")
	require.NoError(t, err)
	require.Zero(t, days)

	// Reversed ranges clamp to zero rather than going negative.
	days, err = cal.DaysBetween("2025-02-15", "2025-02-01")
	require.NoError(t, err)
	require.Zero(t, days)
}

func TestDaysBetweenAcrossDSTTransition(t *testing.T) {
	cal, err := NewCalendar("America/New_York")
	require.NoError(t, err)

	// The spring-forward Sunday (2025-03-09) is 23 wall-clock hours long
	// but still counts as one civil day.
	days, err := cal.DaysBetween("2025-03-08", "2025-03-10")
	require.NoError(t, err)
	require.Equal(t, 2, days)
}

func TestFormatForDisplay(t *testing.T) {
	cal, err := NewCalendar(DefaultTimezone)
	require.NoError(t, err)

	require.Equal(t, "1 February 2025", cal.FormatForDisplay("2025-02-01"))
	require.Equal(t, "garbage", cal.FormatForDisplay("garbage"))
}
