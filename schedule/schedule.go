/*
schedule.go - Next-execution computation for recurring reports

PURPOSE:
  Turns a human schedule (daily/weekly/monthly/quarterly, day, time of day,
  timezone) into the next instant a report should run. Pure functions only:
  no clock, no store, no logging.

CRITICAL INVARIANTS:
  1. STRICTLY FUTURE: NextRun(cfg, from) > from for every valid cfg
  2. NO DRIFT: day-of-month is re-applied from the config each month, so a
     clamp to Feb 29 never turns a 31st schedule into a 29th schedule
  3. DATE FIRST, CLOCK LAST: the calendar date is chosen in the schedule's
     timezone, then time of day is applied; DST only moves the final instant

EXAMPLE:
  cfg := schedule.Config{Frequency: schedule.Monthly, DayOfMonth: schedule.Int(1), Time: "09:00", Timezone: "UTC"}
  next, err := schedule.NextRun(cfg, time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC))
  // next = 2024-04-01T09:00Z

SEE ALSO:
  - reports/pipeline.go: Advances job.NextRun after every run
  - factory/job.go: Validates configs at creation time
*/
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/report-engine/generic"
)

// =============================================================================
// CONFIG
// =============================================================================

type Frequency string

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
)

// ParseFrequency accepts any casing.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Monthly, Quarterly:
		return f, nil
	}
	return "", generic.NewConfigError("frequency", fmt.Sprintf("unknown frequency %q", s))
}

// Config is a recurrence rule. DayOfWeek (0 = Sunday) is read only for Weekly,
// DayOfMonth only for Monthly and Quarterly; the other is ignored if set.
type Config struct {
	Frequency  Frequency `json:"frequency"`
	DayOfWeek  *int      `json:"dayOfWeek,omitempty"`
	DayOfMonth *int      `json:"dayOfMonth,omitempty"`
	Time       string    `json:"time"`
	Timezone   string    `json:"timezone"`
}

// Int returns a pointer to v, for building configs inline.
func Int(v int) *int { return &v }

// Equal compares two configs field by field.
func (c Config) Equal(o Config) bool {
	return c.Frequency == o.Frequency &&
		equalInt(c.DayOfWeek, o.DayOfWeek) &&
		equalInt(c.DayOfMonth, o.DayOfMonth) &&
		c.Time == o.Time &&
		c.Timezone == o.Timezone
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Validate reports the first malformed field as a *generic.ConfigError.
func (c Config) Validate() error {
	_, err := c.compile()
	return err
}

// compiled is a validated Config with the timezone and clock time resolved.
type compiled struct {
	freq   Frequency
	dow    time.Weekday
	dom    int
	hour   int
	minute int
	loc    *time.Location
}

func (c Config) compile() (compiled, error) {
	out := compiled{freq: c.Frequency}

	switch c.Frequency {
	case Daily:
	case Weekly:
		if c.DayOfWeek == nil {
			return out, generic.NewConfigError("dayOfWeek", "required for weekly schedules")
		}
		if *c.DayOfWeek < 0 || *c.DayOfWeek > 6 {
			return out, generic.NewConfigError("dayOfWeek", fmt.Sprintf("%d is outside 0-6", *c.DayOfWeek))
		}
		out.dow = time.Weekday(*c.DayOfWeek)
	case Monthly, Quarterly:
		if c.DayOfMonth == nil {
			return out, generic.NewConfigError("dayOfMonth", fmt.Sprintf("required for %s schedules", c.Frequency))
		}
		if *c.DayOfMonth < 1 || *c.DayOfMonth > 31 {
			return out, generic.NewConfigError("dayOfMonth", fmt.Sprintf("%d is outside 1-31", *c.DayOfMonth))
		}
		out.dom = *c.DayOfMonth
	case "":
		return out, generic.NewConfigError("frequency", "required")
	default:
		return out, generic.NewConfigError("frequency", fmt.Sprintf("unknown frequency %q", c.Frequency))
	}

	h, m, err := parseClock(c.Time)
	if err != nil {
		return out, err
	}
	out.hour, out.minute = h, m

	if c.Timezone == "" {
		return out, generic.NewConfigError("timezone", "required")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return out, generic.NewConfigError("timezone", fmt.Sprintf("unknown timezone %q", c.Timezone))
	}
	out.loc = loc
	return out, nil
}

// parseClock parses a strict 24h "HH:MM".
func parseClock(s string) (int, int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, generic.NewConfigError("time", fmt.Sprintf("%q is not HH:MM", s))
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, generic.NewConfigError("time", fmt.Sprintf("%q is not a 24h time", s))
	}
	return t.Hour(), t.Minute(), nil
}

// =============================================================================
// NEXT RUN
// =============================================================================

// NextRun returns the first scheduled instant strictly after from, in UTC.
func NextRun(c Config, from time.Time) (time.Time, error) {
	cc, err := c.compile()
	if err != nil {
		return time.Time{}, err
	}
	return cc.next(from), nil
}

// Upcoming returns the next n instants after from.
func Upcoming(c Config, from time.Time, n int) ([]time.Time, error) {
	cc, err := c.compile()
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	at := from
	for i := 0; i < n; i++ {
		at = cc.next(at)
		out = append(out, at)
	}
	return out, nil
}

func (c compiled) next(from time.Time) time.Time {
	local := from.In(c.loc)
	y, m, d := local.Date()

	var candidate time.Time
	switch c.freq {
	case Daily:
		candidate = c.at(y, m, d+1)

	case Weekly:
		diff := (int(c.dow) - int(local.Weekday()) + 7) % 7
		if diff == 0 {
			diff = 7
		}
		candidate = c.at(y, m, d+diff)
		for !candidate.After(from) {
			candidate = candidate.In(c.loc)
			cy, cm, cd := candidate.Date()
			candidate = c.at(cy, cm, cd+7)
		}

	default:
		step := 1
		if c.freq == Quarterly {
			step = 3
		}
		ny, nm := generic.AddMonths(y, m, step)
		candidate = c.onDay(ny, nm)
		for !candidate.After(from) {
			ny, nm = generic.AddMonths(ny, nm, step)
			candidate = c.onDay(ny, nm)
		}
	}

	// Only a DST gap can land a daily run at or before from.
	for !candidate.After(from) {
		cy, cm, cd := candidate.In(c.loc).Date()
		candidate = c.at(cy, cm, cd+1)
	}
	return candidate.UTC()
}

// onDay applies the configured day of month, clamped to the month's length.
func (c compiled) onDay(y int, m time.Month) time.Time {
	day := c.dom
	if last := generic.DaysIn(y, m); day > last {
		day = last
	}
	return c.at(y, m, day)
}

func (c compiled) at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, c.hour, c.minute, 0, 0, c.loc)
}
