package delivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/delivery"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
)

func sampleDelivery() reports.Delivery {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return reports.Delivery{
		RunID:      "run-1",
		JobID:      "job-1",
		ReportType: generic.ReportFinancial,
		DateRange:  generic.DateRange{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)},
		Artifacts: []reports.Artifact{
			{Format: reports.FormatCSV, Locator: "/tmp/a.csv", Size: 10},
			{Format: reports.FormatXLSX, Locator: "/tmp/a.xlsx", Size: 20},
		},
		Recipients: []string{"owner@example.com"},
	}
}

func TestLogDispatcher_LogsEachArtifact(t *testing.T) {
	// GIVEN
	logger, hook := test.NewNullLogger()
	d := delivery.NewLogDispatcher(logger)

	// WHEN
	err := d.Send(context.Background(), sampleDelivery())

	// THEN
	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 2)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "report delivered", entry.Message)
	assert.Equal(t, reports.FormatXLSX, entry.Data["format"])
}

func TestLogDispatcher_CancelledContext(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := delivery.NewLogDispatcher(logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Send(ctx, sampleDelivery())

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, hook.AllEntries())
}

type dispatchFunc func(context.Context, reports.Delivery) error

func (f dispatchFunc) Send(ctx context.Context, d reports.Delivery) error { return f(ctx, d) }

func TestMulti_CallsAllAndJoinsErrors(t *testing.T) {
	// GIVEN: One failing dispatcher between two working ones
	calls := 0
	ok := dispatchFunc(func(context.Context, reports.Delivery) error { calls++; return nil })
	boom := errors.New("smtp down")
	bad := dispatchFunc(func(context.Context, reports.Delivery) error { calls++; return boom })

	// WHEN
	err := delivery.Multi{ok, bad, ok}.Send(context.Background(), sampleDelivery())

	// THEN
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestMessage_Fields(t *testing.T) {
	msg, err := delivery.Message(sampleDelivery())
	require.NoError(t, err)

	assert.Equal(t, "run-1", msg["run_id"])
	assert.Equal(t, "financial", msg["report_type"])
	assert.Equal(t, "2024-03-01T00:00:00Z", msg["start"])

	var artifacts []reports.Artifact
	require.NoError(t, json.Unmarshal([]byte(msg["artifacts"].(string)), &artifacts))
	assert.Len(t, artifacts, 2)
	assert.Equal(t, `["owner@example.com"]`, msg["recipients"])
}
