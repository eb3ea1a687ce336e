package generic_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/generic"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func endOf(y int, m time.Month, d int) time.Time {
	return generic.EndOfDay(utc(y, m, d, 0, 0))
}

func TestRangeSpec_Resolve(t *testing.T) {
	// 2024 is a leap year.
	now := utc(2024, time.March, 15, 10, 0)
	start := utc(2024, time.March, 3, 10, 0)
	end := utc(2024, time.March, 5, 0, 0)

	tests := []struct {
		spec generic.RangeSpec
		want generic.DateRange
	}{
		{generic.RangeSpec{Selector: generic.RangeLast7Days}, generic.DateRange{Start: utc(2024, 3, 8, 0, 0), End: endOf(2024, 3, 14)}},
		{generic.RangeSpec{Selector: generic.RangeLast30Days}, generic.DateRange{Start: utc(2024, 2, 14, 0, 0), End: endOf(2024, 3, 14)}},
		{generic.RangeSpec{Selector: generic.RangeLastMonth}, generic.DateRange{Start: utc(2024, 2, 1, 0, 0), End: endOf(2024, 2, 29)}},
		{generic.RangeSpec{Selector: generic.RangeCurrentMonth}, generic.DateRange{Start: utc(2024, 3, 1, 0, 0), End: endOf(2024, 3, 15)}},
		{generic.RangeSpec{Selector: generic.RangeLastQuarter}, generic.DateRange{Start: utc(2023, 10, 1, 0, 0), End: endOf(2023, 12, 31)}},
		{generic.RangeSpec{Selector: generic.RangeYearToDate}, generic.DateRange{Start: utc(2024, 1, 1, 0, 0), End: endOf(2024, 3, 15)}},
		{generic.RangeSpec{Selector: generic.RangeLastYear}, generic.DateRange{Start: utc(2023, 1, 1, 0, 0), End: endOf(2023, 12, 31)}},
		{generic.RangeSpec{Selector: generic.RangeCustom, Start: &start, End: &end}, generic.DateRange{Start: utc(2024, 3, 3, 0, 0), End: endOf(2024, 3, 5)}},
	}
	for _, tt := range tests {
		t.Run(string(tt.spec.Selector), func(t *testing.T) {
			got, err := tt.spec.Resolve(now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeSpec_ResolveRejectsBadSpecs(t *testing.T) {
	now := utc(2024, time.March, 15, 10, 0)
	start := utc(2024, time.March, 5, 0, 0)
	end := utc(2024, time.March, 3, 0, 0)

	for _, spec := range []generic.RangeSpec{
		{},
		{Selector: "next_week"},
		{Selector: generic.RangeCustom, Start: &start},
		{Selector: generic.RangeCustom, Start: &start, End: &end},
	} {
		_, err := spec.Resolve(now)
		var cfgErr *generic.ConfigError
		require.True(t, errors.As(err, &cfgErr), "selector %q: %v", spec.Selector, err)
		assert.Equal(t, "date_range", cfgErr.Field)
		assert.True(t, generic.IsClientError(err))
	}
}

func TestLastQuarter_FromFirstMonthOfYear(t *testing.T) {
	got, err := generic.RangeSpec{Selector: generic.RangeLastQuarter}.Resolve(utc(2024, time.January, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, utc(2023, time.October, 1, 0, 0), got.Start)

	got, err = generic.RangeSpec{Selector: generic.RangeLastQuarter}.Resolve(utc(2024, time.August, 20, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, generic.DateRange{Start: utc(2024, 4, 1, 0, 0), End: endOf(2024, 6, 30)}, got)
}

func TestDateRange(t *testing.T) {
	march := generic.Period{Year: 2024, Month: time.March}.Range()

	assert.True(t, march.Contains(utc(2024, 3, 31, 23, 59)))
	assert.False(t, march.Contains(utc(2024, 4, 1, 0, 0)))

	prev := march.Previous()
	assert.Equal(t, endOf(2024, 2, 29), prev.End)
	assert.Equal(t, march.Duration(), prev.Duration())

	span, err := generic.NewDateRange(utc(2024, 2, 14, 9, 0), utc(2024, 3, 14, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02", "2024-03"}, span.Months())
	assert.Equal(t, "[2024-02-14, 2024-03-14]", span.String())

	_, err = generic.NewDateRange(utc(2024, 3, 2, 0, 0), utc(2024, 3, 1, 0, 0))
	assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
}

func TestPeriod(t *testing.T) {
	p, err := generic.ParsePeriod("2024-01")
	require.NoError(t, err)
	assert.Equal(t, generic.Period{Year: 2023, Month: time.December}, p.Previous())
	assert.Equal(t, p, generic.PeriodOf(utc(2024, 1, 31, 23, 0)))

	_, err = generic.ParsePeriod("2024-13")
	assert.ErrorIs(t, err, generic.ErrConfig)

	var body struct {
		Period generic.Period `json:"period"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"period":"2024-03"}`), &body))
	assert.Equal(t, generic.Period{Year: 2024, Month: time.March}, body.Period)
	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"period":"2024-03"}`, string(out))
}

func TestCalendarHelpers(t *testing.T) {
	assert.Equal(t, 29, generic.DaysIn(2024, time.February))
	assert.Equal(t, 28, generic.DaysIn(2023, time.February))

	y, m := generic.AddMonths(2024, time.November, 3)
	assert.Equal(t, 2025, y)
	assert.Equal(t, time.February, m)

	assert.Equal(t, 2, generic.MonthsBetween(utc(2024, 1, 15, 0, 0), utc(2024, 3, 15, 0, 0)))
	assert.Equal(t, 1, generic.MonthsBetween(utc(2024, 1, 15, 0, 0), utc(2024, 3, 14, 0, 0)))
	assert.Equal(t, 0, generic.MonthsBetween(utc(2024, 3, 15, 0, 0), utc(2024, 1, 15, 0, 0)))
	assert.Equal(t, 36.0, generic.HoursBetween(utc(2024, 3, 1, 0, 0), utc(2024, 3, 2, 12, 0)))
}
