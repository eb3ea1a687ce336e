package reports

import (
	"context"
	"time"

	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/generic"
)

// =============================================================================
// PERSISTENCE
// =============================================================================

// JobFilter selects jobs. Zero values match everything.
type JobFilter struct {
	ActiveOnly bool
	DueBy      *time.Time
	OwnerID    string
}

// Matches applies the filter to one job.
func (f JobFilter) Matches(j ScheduledReportJob) bool {
	if f.ActiveOnly && !j.IsActive {
		return false
	}
	if f.DueBy != nil && !j.IsDue(*f.DueBy) {
		return false
	}
	if f.OwnerID != "" && j.OwnerID != f.OwnerID {
		return false
	}
	return true
}

// RunFilter selects runs, newest first. Limit <= 0 means no limit.
type RunFilter struct {
	JobID  JobID
	Status RunStatus
	Limit  int
}

func (f RunFilter) Matches(r GeneratedReportRun) bool {
	if f.JobID != "" && r.ScheduledReportID != f.JobID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// JobStore persists scheduled jobs. Updates are compare-and-swap on Version.
type JobStore interface {
	CreateJob(ctx context.Context, job ScheduledReportJob) error
	GetJob(ctx context.Context, id JobID) (ScheduledReportJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]ScheduledReportJob, error)

	// UpdateJobIfVersion writes job only if the stored version equals
	// expected, storing it with Version = expected+1. Returns
	// generic.ErrConcurrentModification on mismatch.
	UpdateJobIfVersion(ctx context.Context, job ScheduledReportJob, expected int) error

	DeleteJob(ctx context.Context, id JobID) error
}

// RunStore persists runs. Runs are never deleted.
type RunStore interface {
	CreateRun(ctx context.Context, run GeneratedReportRun) error
	UpdateRun(ctx context.Context, run GeneratedReportRun) error
	GetRun(ctx context.Context, id RunID) (GeneratedReportRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]GeneratedReportRun, error)
}

type Store interface {
	JobStore
	RunStore
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Aggregator computes report data. Satisfied by *analytics.Aggregator.
type Aggregator interface {
	Aggregate(ctx context.Context, reportType generic.ReportType, r generic.DateRange, filter generic.RecordFilter) (analytics.Payload, error)
}

// Renderer turns a payload into one artifact. name is a stable base name
// for the output (no extension).
type Renderer interface {
	Render(ctx context.Context, payload analytics.Payload, format Format, name string) (Artifact, error)
}

// Delivery is what a Dispatcher sends.
type Delivery struct {
	RunID      RunID
	JobID      JobID
	ReportType generic.ReportType
	DateRange  generic.DateRange
	Artifacts  []Artifact
	Recipients []string
}

// Dispatcher delivers artifacts. Any error fails the run.
type Dispatcher interface {
	Send(ctx context.Context, d Delivery) error
}

// Locker serializes runs per job. TryLock returns ok=false, without error,
// when another holder has the key. While held, the returned context is
// cancelled if the lock is lost; work done under the lock should use it.
type Locker interface {
	TryLock(ctx context.Context, key string) (held context.Context, release func(), ok bool, err error)
}
