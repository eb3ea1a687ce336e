/*
Package reports runs recurring and manual report generation.

PURPOSE:
  A ScheduledReportJob says what to report on and when. The Pipeline turns a
  due job (or a manual request) into a GeneratedReportRun by aggregating,
  rendering and dispatching, then advances the job's next run.

RUN STATE MACHINE:
  Generating -> Completed -> Sent   (recipients present)
  Generating -> Completed           (no recipients, terminal)
  Generating -> Failed              (any stage fails)
  Completed  -> Failed              (dispatch fails)
  Failed, Sent and recipient-less Completed are terminal.

KEY CONCEPTS IN THIS FILE (types.go):
  - ScheduledReportJob: Recurring report definition with a version counter
  - GeneratedReportRun: One execution attempt, never deleted
  - Format / Artifact: What renderers produce

SEE ALSO:
  - pipeline.go: Executes runs
  - jobs.go: Job create/update/delete
  - store.go: Persistence and collaborator interfaces
*/
package reports

import (
	"fmt"
	"strings"
	"time"

	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/schedule"
)

// =============================================================================
// FORMATS & ARTIFACTS
// =============================================================================

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

func (f Format) Valid() bool {
	switch f {
	case FormatCSV, FormatXLSX, FormatJSON, FormatPDF:
		return true
	}
	return false
}

// Artifact is one rendered output. Locator is opaque to the pipeline
// (a file path, a gs:// URL, ...).
type Artifact struct {
	Format  Format `json:"format"`
	Locator string `json:"locator"`
	Size    int64  `json:"size"`
}

// =============================================================================
// SCHEDULED REPORT JOB
// =============================================================================

type JobID string

// Settings control what a run covers and produces.
type Settings struct {
	DateRange      generic.RangeSpec    `json:"dateRange"`
	Formats        []Format             `json:"formats"`
	PropertyIDs    []generic.PropertyID `json:"propertyIds,omitempty"`
	IncludeDetails bool                 `json:"includeDetails"`
	IncludeCharts  bool                 `json:"includeCharts"`
}

// ScheduledReportJob is a recurring report definition.
// NextRun is always set while IsActive; Version increments on every write.
type ScheduledReportJob struct {
	ID         JobID              `json:"id"`
	Name       string             `json:"name"`
	OwnerID    string             `json:"ownerId"`
	ReportType generic.ReportType `json:"reportType"`
	Schedule   schedule.Config    `json:"schedule"`
	Settings   Settings           `json:"settings"`
	Recipients []string           `json:"recipients"`
	IsActive   bool               `json:"isActive"`
	LastRun    *time.Time         `json:"lastRun,omitempty"`
	NextRun    time.Time          `json:"nextRun"`
	Version    int                `json:"version"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// IsDue reports whether the job should run at now.
func (j ScheduledReportJob) IsDue(now time.Time) bool {
	return j.IsActive && !j.NextRun.After(now)
}

// Validate rejects malformed jobs before they are stored.
func (j ScheduledReportJob) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return generic.NewConfigError("name", "required")
	}
	if !j.ReportType.Valid() {
		return generic.NewConfigError("reportType", fmt.Sprintf("unknown report type %q", j.ReportType))
	}
	if err := j.Schedule.Validate(); err != nil {
		return err
	}
	if err := j.Settings.Validate(); err != nil {
		return err
	}
	if j.IsActive && len(j.Recipients) == 0 {
		return generic.NewConfigError("recipients", "required while the job is active")
	}
	for _, r := range j.Recipients {
		if strings.TrimSpace(r) == "" {
			return generic.NewConfigError("recipients", "empty recipient")
		}
	}
	return nil
}

func (s Settings) Validate() error {
	if err := s.DateRange.Validate(); err != nil {
		return err
	}
	if len(s.Formats) == 0 {
		return generic.NewConfigError("formats", "at least one format is required")
	}
	seen := map[Format]bool{}
	for _, f := range s.Formats {
		if !f.Valid() {
			return generic.NewConfigError("formats", fmt.Sprintf("unknown format %q", f))
		}
		if seen[f] {
			return generic.NewConfigError("formats", fmt.Sprintf("duplicate format %q", f))
		}
		seen[f] = true
	}
	return nil
}

// =============================================================================
// GENERATED REPORT RUN
// =============================================================================

type RunID string

type RunStatus string

const (
	RunGenerating RunStatus = "generating"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunSent       RunStatus = "sent"
)

type RunMetadata struct {
	RecordCount      int   `json:"recordCount"`
	ByteSize         int64 `json:"byteSize"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

// GeneratedReportRun is one execution attempt. ScheduledReportID is empty
// for manual generation.
type GeneratedReportRun struct {
	ID                RunID              `json:"id"`
	ScheduledReportID JobID              `json:"scheduledReportId,omitempty"`
	ReportType        generic.ReportType `json:"reportType"`
	DateRange         generic.DateRange  `json:"dateRange"`
	Status            RunStatus          `json:"status"`
	Data              *analytics.Payload `json:"data,omitempty"`
	Artifacts         map[Format]string  `json:"artifacts"`
	Recipients        []string           `json:"recipients"`
	Error             string             `json:"error,omitempty"`
	Metadata          RunMetadata        `json:"metadata"`
	StartedAt         time.Time          `json:"startedAt"`
	FinishedAt        *time.Time         `json:"finishedAt,omitempty"`
}

// IsTerminal reports whether no further transition is allowed.
func (r GeneratedReportRun) IsTerminal() bool {
	switch r.Status {
	case RunFailed, RunSent:
		return true
	case RunCompleted:
		return len(r.Recipients) == 0
	}
	return false
}

// CanTransition reports whether the run may move to next.
func (r GeneratedReportRun) CanTransition(next RunStatus) bool {
	if r.IsTerminal() {
		return false
	}
	switch r.Status {
	case RunGenerating:
		return next == RunCompleted || next == RunFailed
	case RunCompleted:
		return next == RunSent || next == RunFailed
	}
	return false
}

// transition moves the run to next, stamping FinishedAt on terminal states.
func (r *GeneratedReportRun) transition(next RunStatus, at time.Time) error {
	if !r.CanTransition(next) {
		return &generic.TransitionError{From: string(r.Status), To: string(next)}
	}
	r.Status = next
	if r.IsTerminal() {
		t := at
		r.FinishedAt = &t
	}
	return nil
}

// =============================================================================
// REQUESTS & RESULTS
// =============================================================================

// GenerateRequest describes a manual, one-off report.
type GenerateRequest struct {
	ReportType generic.ReportType
	Settings   Settings
	Recipients []string
}

func (r GenerateRequest) Validate() error {
	if !r.ReportType.Valid() {
		return generic.NewConfigError("reportType", fmt.Sprintf("unknown report type %q", r.ReportType))
	}
	return r.Settings.Validate()
}

// TickSummary describes one RunDue pass.
type TickSummary struct {
	Due       int `json:"due"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
