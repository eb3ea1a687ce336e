package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/schedule"
)

// =============================================================================
// JOB LIFECYCLE
// =============================================================================
// Schedule errors surface here, at creation and update time, never during a run.

// CreateJob validates job, assigns an id when missing and computes the first
// nextRun from the current time.
func (p *Pipeline) CreateJob(ctx context.Context, job ScheduledReportJob) (ScheduledReportJob, error) {
	if err := job.Validate(); err != nil {
		return ScheduledReportJob{}, err
	}

	now := p.clock.Now()
	next, err := schedule.NextRun(job.Schedule, now)
	if err != nil {
		return ScheduledReportJob{}, err
	}

	if job.ID == "" {
		job.ID = JobID(uuid.NewString())
	}
	job.NextRun = next
	job.LastRun = nil
	job.Version = 1
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := p.store.CreateJob(ctx, job); err != nil {
		return ScheduledReportJob{}, fmt.Errorf("create job: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"report_type": job.ReportType,
		"next_run":    job.NextRun,
	}).Info("scheduled report created")
	return job, nil
}

// UpdateJob applies edit to the stored job and writes it back with
// compare-and-swap, retrying on concurrent modification. nextRun is
// recomputed whenever the schedule or the active flag changes.
func (p *Pipeline) UpdateJob(ctx context.Context, id JobID, edit func(*ScheduledReportJob) error) (ScheduledReportJob, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := p.store.GetJob(ctx, id)
		if err != nil {
			return ScheduledReportJob{}, err
		}

		updated := current
		if err := edit(&updated); err != nil {
			return ScheduledReportJob{}, err
		}
		// Identity and bookkeeping are not editable.
		updated.ID = current.ID
		updated.Version = current.Version
		updated.CreatedAt = current.CreatedAt
		updated.LastRun = current.LastRun
		updated.NextRun = current.NextRun

		if err := updated.Validate(); err != nil {
			return ScheduledReportJob{}, err
		}

		now := p.clock.Now()
		if !updated.Schedule.Equal(current.Schedule) || updated.IsActive != current.IsActive {
			next, err := schedule.NextRun(updated.Schedule, now)
			if err != nil {
				return ScheduledReportJob{}, err
			}
			updated.NextRun = next
		}
		updated.UpdatedAt = now

		err = p.store.UpdateJobIfVersion(ctx, updated, current.Version)
		if err == nil {
			updated.Version = current.Version + 1
			return updated, nil
		}
		if !generic.IsRetryable(err) {
			return ScheduledReportJob{}, fmt.Errorf("update job %s: %w", id, err)
		}
	}
	return ScheduledReportJob{}, fmt.Errorf("update job %s: %w", id, generic.ErrConcurrentModification)
}

// DeleteJob removes a job. Its runs are kept.
func (p *Pipeline) DeleteJob(ctx context.Context, id JobID) error {
	if err := p.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	p.log.WithField("job_id", id).Info("scheduled report deleted")
	return nil
}
