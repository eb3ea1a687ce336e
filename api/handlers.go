/*
handlers.go - HTTP API handlers for the report engine

PURPOSE:

	Exposes scheduled reports, manual generation, analytics and monthly
	reconciliation via REST API. Handles HTTP request/response, JSON
	serialization, and delegates to the reports pipeline and the
	reconciliation service.

ENDPOINTS:

	Scheduled reports:
	  GET    /api/reports/schedules              List jobs (?owner_id=&active=)
	  POST   /api/reports/schedules              Create job
	  GET    /api/reports/schedules/{id}         Get job
	  PUT    /api/reports/schedules/{id}         Update job (recomputes nextRun)
	  DELETE /api/reports/schedules/{id}         Delete job
	  POST   /api/reports/schedules/preview      Next N run instants for a config

	Runs:
	  POST   /api/reports/generate               Manual generation
	  GET    /api/reports/runs                   ?schedule_id=&status=&limit=
	  GET    /api/reports/runs/{id}

	Analytics:
	  GET    /api/analytics/{type}               ?range=&start=&end=&property_id=

	Reconciliation:
	  POST   /api/reconciliations                Start a period
	  GET    /api/reconciliations                ?period=&status=
	  GET    /api/reconciliations/{id}
	  POST   /api/reconciliations/{id}/statement Upload a statement
	  POST   /api/reconciliations/{id}/resolve   Accept the discrepancy
	  POST   /api/reconciliations/{id}/dispute
	  POST   /api/reconciliations/{id}/reopen

ERROR HANDLING:

	Errors are returned as JSON with appropriate HTTP status:
	- 400: Malformed JSON, validation errors, ConfigError (field is named)
	- 404: Job, run or reconciliation not found
	- 409: Invalid transition, concurrent modification, job already running
	- 422: Manual generation failed (body carries the failed run)
	- 500: Internal errors

SECURITY NOTE:

	No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo data sets
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/factory"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reconciliation"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/schedule"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pipeline        *reports.Pipeline
	Store           reports.Store
	Aggregator      *analytics.Aggregator
	Reconciliations *reconciliation.Service
	Importer        generic.Importer
	JobFactory      *factory.JobFactory
	Clock           generic.Clock
	Log             logrus.FieldLogger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// Deps are the collaborators a Handler needs.
type Deps struct {
	Pipeline        *reports.Pipeline
	Store           reports.Store
	Aggregator      *analytics.Aggregator
	Reconciliations *reconciliation.Service
	Importer        generic.Importer
	Clock           generic.Clock
	Log             logrus.FieldLogger
}

// NewHandler creates a new handler. A nil Clock means the system clock.
func NewHandler(d Deps) *Handler {
	clock := d.Clock
	if clock == nil {
		clock = generic.SystemClock{}
	}
	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Pipeline:        d.Pipeline,
		Store:           d.Store,
		Aggregator:      d.Aggregator,
		Reconciliations: d.Reconciliations,
		Importer:        d.Importer,
		JobFactory:      factory.NewJobFactory(),
		Clock:           clock,
		Log:             log.WithField("component", "api"),
		validate:        validator.New(),
	}
}

// =============================================================================
// SCHEDULED REPORTS
// =============================================================================

// ListSchedules returns jobs ordered by next run.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := reports.JobFilter{OwnerID: r.URL.Query().Get("owner_id")}
	if v := r.URL.Query().Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active flag", err)
			return
		}
		filter.ActiveOnly = active
	}

	jobs, err := h.Store.ListJobs(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "failed to list schedules", err)
		return
	}
	if jobs == nil {
		jobs = []reports.ScheduledReportJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// CreateSchedule creates a job and computes its first run.
func (h *Handler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	job, err := h.Pipeline.CreateJob(r.Context(), req.toJob())
	if err != nil {
		h.writeDomainError(w, "failed to create schedule", err)
		return
	}
	h.Log.WithFields(logrus.Fields{"job_id": job.ID, "next_run": job.NextRun}).Info("schedule created")
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	job, err := h.Store.GetJob(r.Context(), reports.JobID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "failed to get schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// UpdateSchedule applies a partial update. nextRun is recomputed when the
// schedule or activity changes.
func (h *Handler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req UpdateScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := reports.JobID(chi.URLParam(r, "id"))
	job, err := h.Pipeline.UpdateJob(r.Context(), id, func(j *reports.ScheduledReportJob) error {
		req.apply(j)
		return nil
	})
	if err != nil {
		h.writeDomainError(w, "failed to update schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.Pipeline.DeleteJob(r.Context(), reports.JobID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "failed to delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreviewSchedule returns upcoming run instants without storing anything.
func (h *Handler) PreviewSchedule(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}
	count := req.Count
	if count == 0 {
		count = 5
	}
	from := h.Clock.Now()
	if req.From != nil {
		from = *req.From
	}

	runs, err := schedule.Upcoming(req.Schedule, from, count)
	if err != nil {
		h.writeDomainError(w, "invalid schedule", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewDTO{Runs: runs})
}

// =============================================================================
// RUNS
// =============================================================================

// GenerateReport runs a one-off report synchronously.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var req GenerateReportRequest
	if !h.decode(w, r, &req) {
		return
	}

	run, err := h.Pipeline.Generate(r.Context(), reports.GenerateRequest{
		ReportType: req.ReportType,
		Settings:   req.Settings,
		Recipients: req.Recipients,
	})
	if err != nil {
		if run.ID == "" {
			h.writeDomainError(w, "failed to generate report", err)
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, GenerateFailureDTO{Error: err.Error(), Run: run})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns runs newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := reports.RunFilter{
		JobID:  reports.JobID(q.Get("schedule_id")),
		Status: reports.RunStatus(q.Get("status")),
		Limit:  50,
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500", err)
			return
		}
		filter.Limit = limit
	}

	runs, err := h.Store.ListRuns(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []reports.GeneratedReportRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Store.GetRun(r.Context(), reports.RunID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "failed to get run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// =============================================================================
// ANALYTICS
// =============================================================================

// GetAnalytics aggregates one report type on demand. The window is either a
// range selector (?range=last_month, default last_30_days) or an explicit
// ?start=YYYY-MM-DD&end=YYYY-MM-DD.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	reportType := generic.ReportType(chi.URLParam(r, "type"))
	if !reportType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown report type %q", reportType), nil)
		return
	}

	rng, err := h.analyticsRange(r)
	if err != nil {
		h.writeDomainError(w, "invalid date range", err)
		return
	}

	filter := generic.RecordFilter{}
	for _, id := range r.URL.Query()["property_id"] {
		filter.PropertyIDs = append(filter.PropertyIDs, generic.PropertyID(id))
	}

	payload, err := h.Aggregator.Aggregate(r.Context(), reportType, rng, filter)
	if err != nil {
		h.writeDomainError(w, "failed to aggregate", err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) analyticsRange(r *http.Request) (generic.DateRange, error) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		s, err := time.Parse("2006-01-02", start)
		if err != nil {
			return generic.DateRange{}, generic.NewConfigError("start", fmt.Sprintf("%q is not YYYY-MM-DD", start))
		}
		e, err := time.Parse("2006-01-02", end)
		if err != nil {
			return generic.DateRange{}, generic.NewConfigError("end", fmt.Sprintf("%q is not YYYY-MM-DD", end))
		}
		return generic.NewDateRange(s, e)
	}

	selector := generic.RangeSelector(q.Get("range"))
	if selector == "" {
		selector = generic.RangeLast30Days
	}
	return generic.RangeSpec{Selector: selector}.Resolve(h.Clock.Now())
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func (h *Handler) StartReconciliation(w http.ResponseWriter, r *http.Request) {
	var req StartReconciliationRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := generic.ParsePeriod(req.Period)
	if err != nil {
		h.writeDomainError(w, "invalid period", err)
		return
	}

	rec, err := h.Reconciliations.Start(r.Context(), period)
	if err != nil {
		h.writeDomainError(w, "failed to start reconciliation", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := reconciliation.Filter{Status: reconciliation.Status(q.Get("status"))}
	if v := q.Get("period"); v != "" {
		period, err := generic.ParsePeriod(v)
		if err != nil {
			h.writeDomainError(w, "invalid period", err)
			return
		}
		filter.Period = &period
	}

	recs, err := h.Reconciliations.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, "failed to list reconciliations", err)
		return
	}
	if recs == nil {
		recs = []reconciliation.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Reconciliations.Get(r.Context(), reconciliation.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "failed to get reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ApplyStatement compares an uploaded statement with the ledger.
func (h *Handler) ApplyStatement(w http.ResponseWriter, r *http.Request) {
	var req StatementRequest
	if !h.decode(w, r, &req) {
		return
	}

	id := reconciliation.RecordID(chi.URLParam(r, "id"))
	rec, err := h.Reconciliations.ApplyStatement(r.Context(), id, req.toStatement())
	if err != nil {
		h.writeDomainError(w, "failed to apply statement", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	h.noteAction(w, r, h.Reconciliations.Resolve)
}

func (h *Handler) DisputeReconciliation(w http.ResponseWriter, r *http.Request) {
	h.noteAction(w, r, h.Reconciliations.Dispute)
}

func (h *Handler) ReopenReconciliation(w http.ResponseWriter, r *http.Request) {
	h.noteAction(w, r, h.Reconciliations.Reopen)
}

func (h *Handler) noteAction(w http.ResponseWriter, r *http.Request, action func(context.Context, reconciliation.RecordID, string) (reconciliation.Record, error)) {
	var req NoteRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}

	rec, err := action(r.Context(), reconciliation.RecordID(chi.URLParam(r, "id")), req.Note)
	if err != nil {
		h.writeDomainError(w, "failed to update reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body and validates its struct tags. On failure it has
// already written the response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "validation failed",
				Field:   verrs[0].Field(),
				Details: validationDetails(verrs),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func validationDetails(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

// writeDomainError maps domain errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var cfgErr *generic.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Field: cfgErr.Field, Details: cfgErr.Reason})
	case generic.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case generic.IsConflict(err), errors.Is(err, reports.ErrJobBusy):
		writeError(w, http.StatusConflict, message, err)
	default:
		h.Log.WithError(err).Error(message)
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
