package shared

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the civil date format used across the persistence layer.
const DateLayout = "2006-01-02"

// DefaultTimezone is the business's local timezone. All membership and
// sales date arithmetic happens in this zone regardless of server UTC offset.
const DefaultTimezone = "America/Mexico_City"

// ErrInvalidDate indicates a string that does not parse as a civil date.
var ErrInvalidDate = errors.New("shared: invalid civil date")

// Calendar performs whole-day civil date arithmetic in a fixed timezone.
// It never measures elapsed wall-clock time, so DST transitions cannot
// shift results by a day.
type Calendar struct {
	loc *time.Location
	now func() time.Time
}

// NewCalendar builds a Calendar for the given IANA timezone name.
func NewCalendar(tz string) (*Calendar, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("shared: load timezone %q: %w", tz, err)
	}
	return &Calendar{loc: loc, now: time.Now}, nil
}

// WithNow returns a copy of the calendar with a pinned clock. Test seam.
func (c *Calendar) WithNow(now func() time.Time) *Calendar {
	return &Calendar{loc: c.loc, now: now}
}

// Now returns the current instant in the business timezone.
func (c *Calendar) Now() time.Time {
	return c.now().In(c.loc)
}

// Today returns the current civil date in the business timezone.
func (c *Calendar) Today() string {
	return c.Now().Format(DateLayout)
}

// AddDays shifts a civil date forward by n calendar days.
func (c *Calendar) AddDays(date string, n int) (string, error) {
	t, err := c.parse(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// DaysBetween returns the number of whole civil days from a to b,
// clamped to zero when b precedes a.
func (c *Calendar) DaysBetween(a, b string) (int, error) {
	from, err := c.parse(a)
	if err != nil {
		return 0, err
	}
	to, err := c.parse(b)
	if err != nil {
		return 0, err
	}
	days := 0
	for t := from; t.Before(to); t = t.AddDate(0, 0, 1) {
		days++
	}
	return days, nil
}

// FormatForDisplay renders a civil date for embedding into human-readable
// notes, e.g. "2 February 2025". Invalid input is returned verbatim so a
// bad date never blocks a note from being written.
func (c *Calendar) FormatForDisplay(date string) string {
	t, err := c.parse(date)
	if err != nil {
		return date
	}
	return t.Format("2 January 2006")
}

func (c *Calendar) parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}
