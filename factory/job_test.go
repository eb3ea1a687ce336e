package factory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/factory"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/schedule"
)

func TestParseJob_FullDefinition(t *testing.T) {
	// GIVEN: A complete monthly job
	f := factory.NewJobFactory()
	jsonStr := `{
		"id": "monthly-financial",
		"name": "Monthly financial summary",
		"owner_id": "owner-1",
		"report_type": "financial",
		"schedule": {"frequency": "Monthly", "day_of_month": 1, "time": "09:00", "timezone": "America/New_York"},
		"date_range": {"selector": "last_month"},
		"formats": ["csv", "XLSX"],
		"property_ids": ["prop-1"],
		"recipients": ["owner@example.com"]
	}`

	// WHEN
	job, err := f.ParseJob(jsonStr)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, reports.JobID("monthly-financial"), job.ID)
	assert.Equal(t, generic.ReportFinancial, job.ReportType)
	assert.Equal(t, schedule.Monthly, job.Schedule.Frequency)
	assert.Equal(t, 1, *job.Schedule.DayOfMonth)
	assert.Equal(t, []reports.Format{reports.FormatCSV, reports.FormatXLSX}, job.Settings.Formats)
	assert.Equal(t, []generic.PropertyID{"prop-1"}, job.Settings.PropertyIDs)
	assert.True(t, job.IsActive)
}

func TestParseJob_Defaults(t *testing.T) {
	// GIVEN: Only the required fields
	f := factory.NewJobFactory()

	// WHEN
	job, err := f.ParseJob(`{"name": "Q", "report_type": "portfolio",
		"schedule": {"frequency": "quarterly", "day_of_month": 15}, "is_active": false}`)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "09:00", job.Schedule.Time)
	assert.Equal(t, "UTC", job.Schedule.Timezone)
	assert.Equal(t, generic.RangeLastQuarter, job.Settings.DateRange.Selector)
	assert.Equal(t, []reports.Format{reports.FormatCSV}, job.Settings.Formats)
	assert.False(t, job.IsActive)
}

func TestParseJob_CustomRange(t *testing.T) {
	f := factory.NewJobFactory()

	job, err := f.ParseJob(`{"name": "Custom", "report_type": "tenant", "is_active": false,
		"schedule": {"frequency": "daily"},
		"date_range": {"selector": "custom", "start": "2024-01-01", "end": "2024-03-31"}}`)

	require.NoError(t, err)
	require.NotNil(t, job.Settings.DateRange.Start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *job.Settings.DateRange.Start)
	assert.Equal(t, 31, job.Settings.DateRange.End.Day())
	assert.Equal(t, 23, job.Settings.DateRange.End.Hour())
}

func TestParseJob_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"missing name", `{"report_type":"financial","schedule":{"frequency":"daily"},"recipients":["a@b"]}`, "name"},
		{"bad type", `{"name":"x","report_type":"weather","schedule":{"frequency":"daily"},"recipients":["a@b"]}`, "reportType"},
		{"bad day of month", `{"name":"x","report_type":"financial","schedule":{"frequency":"monthly","day_of_month":32},"recipients":["a@b"]}`, "dayOfMonth"},
		{"bad timezone", `{"name":"x","report_type":"financial","schedule":{"frequency":"daily","timezone":"Mars/Base"},"recipients":["a@b"]}`, "timezone"},
		{"bad format", `{"name":"x","report_type":"financial","schedule":{"frequency":"daily"},"formats":["docx"],"recipients":["a@b"]}`, "formats"},
		{"active without recipients", `{"name":"x","report_type":"financial","schedule":{"frequency":"daily"}}`, "recipients"},
		{"custom range without end", `{"name":"x","report_type":"financial","schedule":{"frequency":"daily"},"date_range":{"selector":"custom","start":"2024-01-01"},"recipients":["a@b"]}`, "date_range.end"},
	}

	f := factory.NewJobFactory()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseJob(tt.json)

			var cfgErr *generic.ConfigError
			require.True(t, errors.As(err, &cfgErr), "want ConfigError, got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, generic.ErrConfig)
		})
	}
}

func TestParseJob_MalformedJSON(t *testing.T) {
	_, err := factory.NewJobFactory().ParseJob(`{"name":`)
	assert.ErrorIs(t, err, generic.ErrConfig)
}

func TestParseJobs_Batch(t *testing.T) {
	f := factory.NewJobFactory()
	list := "[" + factory.MonthlyFinancialJSON("Owner statement", "owner-1", "UTC", "owner@example.com") + "," +
		factory.WeeklyMaintenanceJSON("Weekly maintenance", "owner-1", "Europe/Paris", "ops@example.com") + "," +
		factory.QuarterlyPortfolioJSON("Quarterly portfolio", "owner-1", "UTC", "owner@example.com") + "]"

	jobs, err := f.ParseJobs(list)

	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, generic.RangeLastMonth, jobs[0].Settings.DateRange.Selector)
	assert.Equal(t, int(time.Monday), *jobs[1].Schedule.DayOfWeek)
	assert.Equal(t, schedule.Quarterly, jobs[2].Schedule.Frequency)
}
