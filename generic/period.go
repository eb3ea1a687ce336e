package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE RANGE - Inclusive [Start, End] window
// =============================================================================

// DateRange is an inclusive time window. Ranges built by the selectors below
// start at midnight UTC and end on the last nanosecond of their final day.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange spans whole days from start's day to end's day.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: StartOfDay(start.UTC()), End: EndOfDay(end.UTC())}
	if r.End.Before(r.Start) {
		return DateRange{}, ErrInvalidPeriod
	}
	return r, nil
}

// Contains returns true if t is within [Start, End].
func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Duration is the length of the window.
func (r DateRange) Duration() time.Duration { return r.End.Sub(r.Start) }

// Previous returns the equal-length window that ends immediately before r.
func (r DateRange) Previous() DateRange {
	end := r.Start.Add(-time.Nanosecond)
	return DateRange{Start: end.Add(-r.Duration()), End: end}
}

// Months lists the "YYYY-MM" keys the range touches, ascending.
func (r DateRange) Months() []string {
	var keys []string
	y, m := r.Start.Year(), r.Start.Month()
	for !StartOfMonth(y, m).After(r.End) {
		keys = append(keys, fmt.Sprintf("%04d-%02d", y, m))
		y, m = AddMonths(y, m, 1)
	}
	return keys
}

func (r DateRange) String() string {
	return "[" + r.Start.Format("2006-01-02") + ", " + r.End.Format("2006-01-02") + "]"
}

// =============================================================================
// PERIOD - Calendar month bucket used by reconciliation
// =============================================================================

// Period is a calendar month, keyed "YYYY-MM".
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses a "YYYY-MM" key.
func ParsePeriod(key string) (Period, error) {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return Period{}, NewConfigError("period", fmt.Sprintf("%q is not a YYYY-MM month key", key))
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// PeriodOf returns the month containing t (in UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, p.Month) }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Range returns the inclusive window covering the whole month.
func (p Period) Range() DateRange {
	return DateRange{Start: StartOfMonth(p.Year, p.Month), End: EndOfMonth(p.Year, p.Month)}
}

// Contains returns true if t falls in the month.
func (p Period) Contains(t time.Time) bool { return p.Range().Contains(t) }

// Previous returns the preceding month.
func (p Period) Previous() Period {
	y, m := AddMonths(p.Year, p.Month, -1)
	return Period{Year: y, Month: m}
}

// =============================================================================
// RANGE SELECTOR - Relative windows for recurring reports
// =============================================================================

// RangeSelector names a window relative to the run instant.
type RangeSelector string

const (
	RangeLast7Days    RangeSelector = "last_7_days"
	RangeLast30Days   RangeSelector = "last_30_days"
	RangeLastMonth    RangeSelector = "last_month"
	RangeCurrentMonth RangeSelector = "current_month"
	RangeLastQuarter  RangeSelector = "last_quarter"
	RangeYearToDate   RangeSelector = "year_to_date"
	RangeLastYear     RangeSelector = "last_year"
	RangeCustom       RangeSelector = "custom"
)

// RangeSpec selects a window. Start/End are only read for RangeCustom.
type RangeSpec struct {
	Selector RangeSelector `json:"selector"`
	Start    *time.Time    `json:"start,omitempty"`
	End      *time.Time    `json:"end,omitempty"`
}

// Validate checks the selector without resolving it.
func (s RangeSpec) Validate() error {
	switch s.Selector {
	case RangeLast7Days, RangeLast30Days, RangeLastMonth, RangeCurrentMonth,
		RangeLastQuarter, RangeYearToDate, RangeLastYear:
		return nil
	case RangeCustom:
		if s.Start == nil || s.End == nil {
			return NewConfigError("date_range", "custom range requires start and end")
		}
		if s.End.Before(*s.Start) {
			return NewConfigError("date_range", ErrInvalidPeriod.Error())
		}
		return nil
	case "":
		return NewConfigError("date_range", "selector is required")
	default:
		return NewConfigError("date_range", fmt.Sprintf("unknown selector %q", s.Selector))
	}
}

// Resolve computes the window relative to now (UTC).
func (s RangeSpec) Resolve(now time.Time) (DateRange, error) {
	if err := s.Validate(); err != nil {
		return DateRange{}, err
	}
	now = now.UTC()
	today := StartOfDay(now)

	switch s.Selector {
	case RangeLast7Days:
		return DateRange{Start: today.AddDate(0, 0, -7), End: today.Add(-time.Nanosecond)}, nil

	case RangeLast30Days:
		return DateRange{Start: today.AddDate(0, 0, -30), End: today.Add(-time.Nanosecond)}, nil

	case RangeLastMonth:
		return PeriodOf(now).Previous().Range(), nil

	case RangeCurrentMonth:
		return DateRange{Start: StartOfMonth(now.Year(), now.Month()), End: EndOfDay(now)}, nil

	case RangeLastQuarter:
		// Quarter containing now starts at month 1, 4, 7 or 10.
		qStartMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		y, m := AddMonths(now.Year(), qStartMonth, -3)
		start := StartOfMonth(y, m)
		ey, em := AddMonths(y, m, 2)
		return DateRange{Start: start, End: EndOfMonth(ey, em)}, nil

	case RangeYearToDate:
		return DateRange{Start: StartOfYear(now.Year()), End: EndOfDay(now)}, nil

	case RangeLastYear:
		return DateRange{Start: StartOfYear(now.Year() - 1), End: StartOfYear(now.Year()).Add(-time.Nanosecond)}, nil

	default:
		return NewDateRange(*s.Start, *s.End)
	}
}
