package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/warp/report-engine/metrics"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/reports/runs/{id}",
		metrics.NormalizePath("/api/reports/runs/7f1c0d6e-2b1a-4c3e-9a51-0d7c1e2f3a4b"))
	assert.Equal(t, "/api/reconciliations/{id}/statement",
		metrics.NormalizePath("/api/reconciliations/0b5e2c1a-1111-4222-8333-944455556666/statement"))
	assert.Equal(t, "/api/analytics/financial", metrics.NormalizePath("/api/analytics/financial"))
}

func TestRunFinished_CountsByTypeAndStatus(t *testing.T) {
	before := testutil.ToFloat64(metrics.ReportRunsTotal.WithLabelValues("tenant", "sent"))

	metrics.RunStarted()
	metrics.RunFinished("tenant", "sent", 0.2)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReportRunsTotal.WithLabelValues("tenant", "sent")))
}
