/*
Package factory provides JSON to Go report job conversion.

PURPOSE:

	Converts JSON job definitions into validated reports.ScheduledReportJob
	values, so report schedules can be kept in files or sent from an admin UI
	without code changes.

JSON SCHEMA:

	{
	  "id": "monthly-financial",
	  "name": "Monthly financial summary",
	  "owner_id": "owner-1",
	  "report_type": "financial",
	  "schedule": {
	    "frequency": "monthly",
	    "day_of_month": 1,
	    "time": "09:00",
	    "timezone": "America/New_York"
	  },
	  "date_range": {"selector": "last_month"},
	  "formats": ["csv", "xlsx"],
	  "property_ids": ["prop-1"],
	  "recipients": ["owner@example.com"],
	  "is_active": true
	}

DEFAULTS:
  - schedule.time "09:00", schedule.timezone "UTC"
  - date_range follows the frequency (daily: last_7_days, weekly: last_7_days,
    monthly: last_month, quarterly: last_quarter)
  - formats ["csv"]
  - is_active true

The factory only builds and validates. Persisting and computing nextRun is
reports.Pipeline.CreateJob's job.

SEE ALSO:
  - reports/types.go: ScheduledReportJob
  - schedule/schedule.go: Schedule validation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/schedule"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// JobJSON is the JSON representation of a scheduled report.
type JobJSON struct {
	ID          string         `json:"id,omitempty"`
	Name        string         `json:"name"`
	OwnerID     string         `json:"owner_id,omitempty"`
	ReportType  string         `json:"report_type"`
	Schedule    ScheduleJSON   `json:"schedule"`
	DateRange   *DateRangeJSON `json:"date_range,omitempty"`
	Formats     []string       `json:"formats,omitempty"`
	PropertyIDs []string       `json:"property_ids,omitempty"`
	Details     bool           `json:"include_details,omitempty"`
	Charts      bool           `json:"include_charts,omitempty"`
	Recipients  []string       `json:"recipients,omitempty"`
	IsActive    *bool          `json:"is_active,omitempty"`
}

type ScheduleJSON struct {
	Frequency  string `json:"frequency"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`  // 0 = Sunday
	DayOfMonth *int   `json:"day_of_month,omitempty"` // 1-31, clamped to month length
	Time       string `json:"time,omitempty"`         // HH:MM
	Timezone   string `json:"timezone,omitempty"`     // IANA name
}

// DateRangeJSON selects the reported window. Start/End (YYYY-MM-DD) are
// only read for the "custom" selector.
type DateRangeJSON struct {
	Selector string `json:"selector"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
}

// =============================================================================
// JOB FACTORY
// =============================================================================

type JobFactory struct{}

func NewJobFactory() *JobFactory {
	return &JobFactory{}
}

// ParseJob parses and validates a JSON job definition.
func (f *JobFactory) ParseJob(jsonStr string) (reports.ScheduledReportJob, error) {
	var jj JobJSON
	dec := json.NewDecoder(strings.NewReader(jsonStr))
	if err := dec.Decode(&jj); err != nil {
		return reports.ScheduledReportJob{}, fmt.Errorf("%w: failed to parse job JSON: %v", generic.ErrConfig, err)
	}
	return f.FromJSON(jj)
}

// ParseJobs parses a JSON array of job definitions. The first invalid entry
// fails the whole batch.
func (f *JobFactory) ParseJobs(jsonStr string) ([]reports.ScheduledReportJob, error) {
	var list []JobJSON
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		return nil, fmt.Errorf("%w: failed to parse job list JSON: %v", generic.ErrConfig, err)
	}
	jobs := make([]reports.ScheduledReportJob, 0, len(list))
	for i, jj := range list {
		job, err := f.FromJSON(jj)
		if err != nil {
			return nil, fmt.Errorf("job %d (%s): %w", i, jj.Name, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// FromJSON converts and validates a JobJSON.
func (f *JobFactory) FromJSON(jj JobJSON) (reports.ScheduledReportJob, error) {
	freq, err := schedule.ParseFrequency(jj.Schedule.Frequency)
	if err != nil {
		return reports.ScheduledReportJob{}, err
	}

	sched := schedule.Config{
		Frequency:  freq,
		DayOfWeek:  jj.Schedule.DayOfWeek,
		DayOfMonth: jj.Schedule.DayOfMonth,
		Time:       jj.Schedule.Time,
		Timezone:   jj.Schedule.Timezone,
	}
	if sched.Time == "" {
		sched.Time = "09:00"
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}

	rng, err := parseDateRange(jj.DateRange, freq)
	if err != nil {
		return reports.ScheduledReportJob{}, err
	}

	formats := make([]reports.Format, 0, len(jj.Formats))
	for _, s := range jj.Formats {
		formats = append(formats, reports.Format(strings.ToLower(strings.TrimSpace(s))))
	}
	if len(formats) == 0 {
		formats = []reports.Format{reports.FormatCSV}
	}

	props := make([]generic.PropertyID, 0, len(jj.PropertyIDs))
	for _, p := range jj.PropertyIDs {
		props = append(props, generic.PropertyID(p))
	}

	active := true
	if jj.IsActive != nil {
		active = *jj.IsActive
	}

	job := reports.ScheduledReportJob{
		ID:         reports.JobID(jj.ID),
		Name:       strings.TrimSpace(jj.Name),
		OwnerID:    jj.OwnerID,
		ReportType: generic.ReportType(strings.ToLower(jj.ReportType)),
		Schedule:   sched,
		Settings: reports.Settings{
			DateRange:      rng,
			Formats:        formats,
			PropertyIDs:    props,
			IncludeDetails: jj.Details,
			IncludeCharts:  jj.Charts,
		},
		Recipients: append([]string(nil), jj.Recipients...),
		IsActive:   active,
	}
	if err := job.Validate(); err != nil {
		return reports.ScheduledReportJob{}, err
	}
	return job, nil
}

func parseDateRange(dr *DateRangeJSON, freq schedule.Frequency) (generic.RangeSpec, error) {
	if dr == nil || dr.Selector == "" {
		return generic.RangeSpec{Selector: defaultSelector(freq)}, nil
	}
	spec := generic.RangeSpec{Selector: generic.RangeSelector(strings.ToLower(dr.Selector))}
	if spec.Selector != generic.RangeCustom {
		return spec, nil
	}

	start, err := parseDay("date_range.start", dr.Start)
	if err != nil {
		return generic.RangeSpec{}, err
	}
	end, err := parseDay("date_range.end", dr.End)
	if err != nil {
		return generic.RangeSpec{}, err
	}
	end = generic.EndOfDay(end)
	spec.Start, spec.End = &start, &end
	return spec, nil
}

func parseDay(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, generic.NewConfigError(field, "required for a custom range")
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, generic.NewConfigError(field, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s))
	}
	return t, nil
}

func defaultSelector(freq schedule.Frequency) generic.RangeSelector {
	switch freq {
	case schedule.Monthly:
		return generic.RangeLastMonth
	case schedule.Quarterly:
		return generic.RangeLastQuarter
	default:
		return generic.RangeLast7Days
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// MonthlyFinancialJSON is the common owner statement: financial report for
// last month, on the 1st at 09:00.
func MonthlyFinancialJSON(name, ownerID, timezone string, recipients ...string) string {
	return presetJSON(JobJSON{
		Name:       name,
		OwnerID:    ownerID,
		ReportType: string(generic.ReportFinancial),
		Schedule:   ScheduleJSON{Frequency: string(schedule.Monthly), DayOfMonth: schedule.Int(1), Time: "09:00", Timezone: timezone},
		Formats:    []string{string(reports.FormatCSV), string(reports.FormatXLSX)},
		Recipients: recipients,
	})
}

// WeeklyMaintenanceJSON reports last week's maintenance every Monday morning.
func WeeklyMaintenanceJSON(name, ownerID, timezone string, recipients ...string) string {
	return presetJSON(JobJSON{
		Name:       name,
		OwnerID:    ownerID,
		ReportType: string(generic.ReportMaintenance),
		Schedule:   ScheduleJSON{Frequency: string(schedule.Weekly), DayOfWeek: schedule.Int(int(time.Monday)), Time: "08:00", Timezone: timezone},
		Formats:    []string{string(reports.FormatCSV)},
		Recipients: recipients,
	})
}

// QuarterlyPortfolioJSON reports the previous quarter on the 1st of each
// quarter.
func QuarterlyPortfolioJSON(name, ownerID, timezone string, recipients ...string) string {
	return presetJSON(JobJSON{
		Name:       name,
		OwnerID:    ownerID,
		ReportType: string(generic.ReportPortfolio),
		Schedule:   ScheduleJSON{Frequency: string(schedule.Quarterly), DayOfMonth: schedule.Int(1), Time: "09:00", Timezone: timezone},
		Formats:    []string{string(reports.FormatXLSX), string(reports.FormatJSON)},
		Recipients: recipients,
	})
}

func presetJSON(jj JobJSON) string {
	b, _ := json.Marshal(jj)
	return string(b)
}
