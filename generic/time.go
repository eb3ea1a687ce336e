package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Injected so core logic never reads the wall clock directly
// =============================================================================

// Clock provides the current instant.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the actual UTC time. Use only at entry points.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T. Use in tests.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// =============================================================================
// TIME UTILITIES
// =============================================================================
// Note: DateRange and Period are defined in period.go

// StartOfDay truncates t to midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last nanosecond of t's day in t's location.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

func EndOfMonth(year int, month time.Month) time.Time {
	return StartOfMonth(year, month).AddDate(0, 1, 0).Add(-time.Nanosecond)
}

func StartOfYear(year int) time.Time { return StartOfMonth(year, time.January) }

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonths steps (year, month) by n calendar months without touching the day,
// so short months never push the result into the following month.
func AddMonths(year int, month time.Month, n int) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return t.Year(), t.Month()
}

// MonthKey formats t as "YYYY-MM".
func MonthKey(t time.Time) string { return t.UTC().Format("2006-01") }

// HoursBetween returns the elapsed hours from a to b as a fraction.
func HoursBetween(a, b time.Time) float64 { return b.Sub(a).Hours() }

// MonthsBetween counts whole calendar months from a to b.
func MonthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
