/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:

	Defines the JSON structures for API communication. Domain types that are
	already JSON-shaped (schedule.Config, reports.Settings, runs, records) are
	returned as-is; request bodies get their own structs so they can carry
	validation tags.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types that do not exist in the domain

VALIDATION:

	Struct tags are checked with go-playground/validator before a request
	reaches the domain. Domain validation (schedule fields, formats, ranges)
	still runs afterwards and reports a ConfigError naming the field.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reconciliation"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/schedule"
)

// =============================================================================
// SCHEDULED REPORTS
// =============================================================================

// CreateScheduleRequest creates a scheduled report. IsActive defaults to true.
type CreateScheduleRequest struct {
	Name       string             `json:"name" validate:"required,max=200"`
	OwnerID    string             `json:"ownerId" validate:"max=100"`
	ReportType generic.ReportType `json:"reportType" validate:"required"`
	Schedule   schedule.Config    `json:"schedule"`
	Settings   reports.Settings   `json:"settings"`
	Recipients []string           `json:"recipients" validate:"dive,email"`
	IsActive   *bool              `json:"isActive"`
}

func (r CreateScheduleRequest) toJob() reports.ScheduledReportJob {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return reports.ScheduledReportJob{
		Name:       r.Name,
		OwnerID:    r.OwnerID,
		ReportType: r.ReportType,
		Schedule:   r.Schedule,
		Settings:   r.Settings,
		Recipients: r.Recipients,
		IsActive:   active,
	}
}

// UpdateScheduleRequest changes only the fields that are present.
type UpdateScheduleRequest struct {
	Name       *string             `json:"name" validate:"omitempty,max=200"`
	ReportType *generic.ReportType `json:"reportType"`
	Schedule   *schedule.Config    `json:"schedule"`
	Settings   *reports.Settings   `json:"settings"`
	Recipients []string            `json:"recipients" validate:"omitempty,dive,email"`
	IsActive   *bool               `json:"isActive"`
}

func (r UpdateScheduleRequest) apply(job *reports.ScheduledReportJob) {
	if r.Name != nil {
		job.Name = *r.Name
	}
	if r.ReportType != nil {
		job.ReportType = *r.ReportType
	}
	if r.Schedule != nil {
		job.Schedule = *r.Schedule
	}
	if r.Settings != nil {
		job.Settings = *r.Settings
	}
	if r.Recipients != nil {
		job.Recipients = r.Recipients
	}
	if r.IsActive != nil {
		job.IsActive = *r.IsActive
	}
}

// PreviewRequest asks for the next Count run instants after From (default now).
type PreviewRequest struct {
	Schedule schedule.Config `json:"schedule"`
	Count    int             `json:"count" validate:"omitempty,min=1,max=50"`
	From     *time.Time      `json:"from"`
}

type PreviewDTO struct {
	Runs []time.Time `json:"runs"`
}

// =============================================================================
// MANUAL GENERATION
// =============================================================================

type GenerateReportRequest struct {
	ReportType generic.ReportType `json:"reportType" validate:"required"`
	Settings   reports.Settings   `json:"settings"`
	Recipients []string           `json:"recipients" validate:"dive,email"`
}

// GenerateFailureDTO is returned with 422 when a manual run fails.
type GenerateFailureDTO struct {
	Error string                     `json:"error"`
	Run   reports.GeneratedReportRun `json:"run"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type StartReconciliationRequest struct {
	Period string `json:"period" validate:"required,len=7"`
}

type StatementLineRequest struct {
	Reference   string          `json:"reference" validate:"max=200"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date" validate:"required"`
	Description string          `json:"description" validate:"max=500"`
}

type StatementRequest struct {
	Total *decimal.Decimal       `json:"total" validate:"required"`
	Lines []StatementLineRequest `json:"lines" validate:"omitempty,dive"`
}

func (r StatementRequest) toStatement() reconciliation.Statement {
	stmt := reconciliation.Statement{Total: *r.Total}
	for _, l := range r.Lines {
		stmt.Lines = append(stmt.Lines, reconciliation.StatementLine{
			Reference:   l.Reference,
			Amount:      l.Amount,
			Date:        l.Date,
			Description: l.Description,
		})
	}
	return stmt
}

type NoteRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type LoadScenarioDTO struct {
	Scenario string `json:"scenario"`
	Records  int    `json:"records"`
	Jobs     int    `json:"jobs"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
