// Package metrics holds the Prometheus collectors for report runs,
// reconciliation transitions and the HTTP API.
package metrics

import (
	"regexp"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ReportRunsTotal counts finished runs by report type and terminal status.
	ReportRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "report_runs_total",
			Help: "Total number of report runs finished by report type and status",
		},
		[]string{"report_type", "status"},
	)

	// ReportRunDuration tracks how long a run takes from Generating to its terminal status.
	ReportRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "report_run_duration_seconds",
			Help:    "Report run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"report_type"},
	)

	// ReportRunsInFlight is the number of runs currently in Generating.
	ReportRunsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "report_runs_in_flight",
			Help: "Number of report runs currently generating",
		},
	)

	// ReconciliationTransitions counts reconciliation status changes by target status.
	ReconciliationTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_transitions_total",
			Help: "Total number of reconciliation status transitions by target status",
		},
		[]string{"to"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

var (
	// UUIDs and month keys are the variable path segments in this API.
	idPathSegment = regexp.MustCompile(`/([0-9a-fA-F]{8}-[0-9a-fA-F-]{27}|[0-9]+)(/|$)`)
	initOnce      sync.Once
)

func init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			ReportRunsTotal, ReportRunDuration, ReportRunsInFlight,
			ReconciliationTransitions, RequestDuration, RequestTotal,
		)
	})
}

// NormalizePath replaces id segments with {id} to bound label cardinality.
func NormalizePath(path string) string {
	return idPathSegment.ReplaceAllString(path, "/{id}$2")
}

// RecordRequest records duration and count for an HTTP request.
func RecordRequest(method, path string, statusCode int, durationSeconds float64) {
	path = NormalizePath(path)
	status := strconv.Itoa(statusCode)
	RequestDuration.WithLabelValues(method, path, status).Observe(durationSeconds)
	RequestTotal.WithLabelValues(method, path, status).Inc()
}

// RunStarted marks a run as in flight.
func RunStarted() { ReportRunsInFlight.Inc() }

// RunFinished records a run's terminal status and duration.
func RunFinished(reportType, status string, durationSeconds float64) {
	ReportRunsInFlight.Dec()
	ReportRunsTotal.WithLabelValues(reportType, status).Inc()
	ReportRunDuration.WithLabelValues(reportType).Observe(durationSeconds)
}

// ReconciliationTransition counts a move into status to.
func ReconciliationTransition(to string) {
	ReconciliationTransitions.WithLabelValues(to).Inc()
}
