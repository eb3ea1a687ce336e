/*
pipeline.go - Report generation state machine

PURPOSE:
  Executes report runs: resolve the date range, create the run in
  Generating, aggregate, render every requested format, dispatch to
  recipients, persist the outcome, then advance the job's next run.

ERROR POLICY:
  Aggregate, render and dispatch failures are recorded verbatim on the run
  (status Failed, error = collaborator message). Manual generation returns
  the error to the caller; RunDue logs it and moves on to the next job.
  The job's nextRun advances after every attempt, successful or not, so a
  permanently failing job cannot spin.

CONCURRENCY:
  At most one run per job at a time (Locker keyed by job id). Distinct jobs
  run in parallel, bounded by Config.Concurrency. Job writes are
  compare-and-swap on Version. If the lock is lost mid-run the remaining
  stages are skipped and the run fails with locks.ErrLockLost.

SEE ALSO:
  - types.go: Run state machine
  - jobs.go: Job lifecycle
  - api/scheduler.go: Ticking host that calls RunDue
*/
package reports

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/locks"
	"github.com/warp/report-engine/metrics"
	"github.com/warp/report-engine/schedule"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrJobBusy is returned when a job already has a run in flight.
	ErrJobBusy = fmt.Errorf("%w: job already has a run in flight", generic.ErrConflict)

	// ErrTimeout marks a render or dispatch call that exceeded its deadline.
	ErrTimeout = errors.New("timed out")
)

const (
	defaultRenderTimeout   = 30 * time.Second
	defaultDispatchTimeout = 30 * time.Second
	defaultConcurrency     = 4

	// maxCASAttempts bounds retries of compare-and-swap job writes.
	maxCASAttempts = 3
)

// Config wires a Pipeline. Store, Aggregator, Renderer and Dispatcher are
// required; the rest have defaults.
type Config struct {
	Store      Store
	Aggregator Aggregator
	Renderer   Renderer
	Dispatcher Dispatcher
	Locker     Locker
	Clock      generic.Clock
	Logger     logrus.FieldLogger

	RenderTimeout   time.Duration
	DispatchTimeout time.Duration
	Concurrency     int
}

type Pipeline struct {
	store      Store
	aggregator Aggregator
	renderer   Renderer
	dispatcher Dispatcher
	locker     Locker
	clock      generic.Clock
	log        logrus.FieldLogger

	renderTimeout   time.Duration
	dispatchTimeout time.Duration
	concurrency     int
}

func NewPipeline(cfg Config) *Pipeline {
	p := &Pipeline{
		store:           cfg.Store,
		aggregator:      cfg.Aggregator,
		renderer:        cfg.Renderer,
		dispatcher:      cfg.Dispatcher,
		locker:          cfg.Locker,
		clock:           cfg.Clock,
		log:             cfg.Logger,
		renderTimeout:   cfg.RenderTimeout,
		dispatchTimeout: cfg.DispatchTimeout,
		concurrency:     cfg.Concurrency,
	}
	if p.locker == nil {
		p.locker = locks.NewKeyed()
	}
	if p.clock == nil {
		p.clock = generic.SystemClock{}
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	if p.renderTimeout <= 0 {
		p.renderTimeout = defaultRenderTimeout
	}
	if p.dispatchTimeout <= 0 {
		p.dispatchTimeout = defaultDispatchTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = defaultConcurrency
	}
	return p
}

// =============================================================================
// SCHEDULED EXECUTION
// =============================================================================

// RunScheduledJob runs job once as of now and advances its schedule.
// The returned error is the run's failure (if any) joined with any failure
// to advance the job.
func (p *Pipeline) RunScheduledJob(ctx context.Context, job ScheduledReportJob, now time.Time) (GeneratedReportRun, error) {
	held, release, ok, err := p.locker.TryLock(ctx, lockKey(job.ID))
	if err != nil {
		return GeneratedReportRun{}, fmt.Errorf("lock job %s: %w", job.ID, err)
	}
	if !ok {
		return GeneratedReportRun{}, ErrJobBusy
	}
	defer release()

	return p.runLocked(ctx, held, job, now)
}

// runLocked runs the stages under held, which ends if the job lock is lost.
// The run record and the job's schedule are persisted with ctx so a lost
// lock is still recorded as a failed run.
func (p *Pipeline) runLocked(ctx, held context.Context, job ScheduledReportJob, now time.Time) (GeneratedReportRun, error) {
	// Every path advances the job so a persistent failure is not retried
	// on every tick.
	rng, err := job.Settings.DateRange.Resolve(now)
	if err != nil {
		return GeneratedReportRun{}, errors.Join(err, p.advance(ctx, job.ID, now))
	}

	run := p.newRun(job.ID, job.ReportType, rng, job.Recipients)
	if err := p.store.CreateRun(ctx, run); err != nil {
		return run, errors.Join(fmt.Errorf("create run: %w", err), p.advance(ctx, job.ID, now))
	}

	runErr := p.execute(ctx, held, &run, job.Settings)
	if err := p.advance(ctx, job.ID, now); err != nil {
		return run, errors.Join(runErr, err)
	}
	return run, runErr
}

// advance sets lastRun and recomputes nextRun from now, retrying when a
// concurrent edit bumps the version. A job deleted mid-run is left alone.
func (p *Pipeline) advance(ctx context.Context, id JobID, now time.Time) error {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		job, err := p.store.GetJob(ctx, id)
		if generic.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reload job %s: %w", id, err)
		}

		next, err := schedule.NextRun(job.Schedule, now)
		if err != nil {
			return err
		}
		ranAt := now
		job.LastRun = &ranAt
		job.NextRun = next
		job.UpdatedAt = p.clock.Now()

		err = p.store.UpdateJobIfVersion(ctx, job, job.Version)
		if err == nil {
			return nil
		}
		if !generic.IsRetryable(err) {
			return fmt.Errorf("advance job %s: %w", id, err)
		}
	}
	return fmt.Errorf("advance job %s: %w", id, generic.ErrConcurrentModification)
}

// RunDue executes every active job whose nextRun is at or before now.
// Run failures are logged and counted, never returned.
func (p *Pipeline) RunDue(ctx context.Context, now time.Time) (TickSummary, error) {
	due, err := p.store.ListJobs(ctx, JobFilter{ActiveOnly: true, DueBy: &now})
	if err != nil {
		return TickSummary{}, fmt.Errorf("list due jobs: %w", err)
	}

	summary := TickSummary{Due: len(due)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, job := range due {
		job := job
		g.Go(func() error {
			outcome := p.runDueJob(ctx, job.ID, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSucceeded:
				summary.Succeeded++
			case outcomeFailed:
				summary.Failed++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Due > 0 {
		p.log.WithFields(logrus.Fields{
			"due":       summary.Due,
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
		}).Info("scheduled reports processed")
	}
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
)

func (p *Pipeline) runDueJob(ctx context.Context, id JobID, now time.Time) outcome {
	log := p.log.WithField("job_id", id)

	held, release, ok, err := p.locker.TryLock(ctx, lockKey(id))
	if err != nil {
		log.WithError(err).Error("lock scheduled job")
		return outcomeFailed
	}
	if !ok {
		log.Debug("job already running, skipped")
		return outcomeSkipped
	}
	defer release()

	// Another worker may have run it between listing and locking.
	job, err := p.store.GetJob(ctx, id)
	if generic.IsNotFound(err) {
		return outcomeSkipped
	}
	if err != nil {
		log.WithError(err).Error("reload scheduled job")
		return outcomeFailed
	}
	if !job.IsDue(now) {
		return outcomeSkipped
	}

	run, err := p.runLocked(ctx, held, job, now)
	if err != nil {
		log.WithFields(logrus.Fields{
			"run_id":      run.ID,
			"report_type": job.ReportType,
			"status":      run.Status,
		}).WithError(err).Error("scheduled report failed")
		return outcomeFailed
	}
	return outcomeSucceeded
}

// =============================================================================
// MANUAL EXECUTION
// =============================================================================

// Generate runs a one-off report. It never touches a ScheduledReportJob.
// The run is returned even when it failed, alongside the failure.
func (p *Pipeline) Generate(ctx context.Context, req GenerateRequest) (GeneratedReportRun, error) {
	if err := req.Validate(); err != nil {
		return GeneratedReportRun{}, err
	}
	rng, err := req.Settings.DateRange.Resolve(p.clock.Now())
	if err != nil {
		return GeneratedReportRun{}, err
	}

	run := p.newRun("", req.ReportType, rng, req.Recipients)
	if err := p.store.CreateRun(ctx, run); err != nil {
		return run, fmt.Errorf("create run: %w", err)
	}
	return run, p.execute(ctx, ctx, &run, req.Settings)
}

// =============================================================================
// STAGES
// =============================================================================

func (p *Pipeline) newRun(jobID JobID, reportType generic.ReportType, rng generic.DateRange, recipients []string) GeneratedReportRun {
	return GeneratedReportRun{
		ID:                RunID(uuid.NewString()),
		ScheduledReportID: jobID,
		ReportType:        reportType,
		DateRange:         rng,
		Status:            RunGenerating,
		Artifacts:         map[Format]string{},
		Recipients:        append([]string(nil), recipients...),
		StartedAt:         p.clock.Now(),
	}
}

// execute drives run from Generating to a terminal status and persists it.
// Stages run under stageCtx; the final write uses ctx.
func (p *Pipeline) execute(ctx, stageCtx context.Context, run *GeneratedReportRun, settings Settings) error {
	started := time.Now()
	metrics.RunStarted()

	err := p.stages(stageCtx, run, settings)
	run.Metadata.ProcessingTimeMs = time.Since(started).Milliseconds()
	if err != nil {
		run.Error = err.Error()
		if terr := run.transition(RunFailed, p.clock.Now()); terr != nil {
			err = errors.Join(err, terr)
		}
	}
	metrics.RunFinished(string(run.ReportType), string(run.Status), time.Since(started).Seconds())

	if uerr := p.store.UpdateRun(ctx, *run); uerr != nil {
		return errors.Join(err, fmt.Errorf("persist run %s: %w", run.ID, uerr))
	}
	return err
}

func (p *Pipeline) stages(ctx context.Context, run *GeneratedReportRun, settings Settings) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	filter := generic.RecordFilter{PropertyIDs: settings.PropertyIDs}
	payload, err := p.aggregator.Aggregate(ctx, run.ReportType, run.DateRange, filter)
	if err != nil {
		return &generic.StageError{Stage: generic.StageAggregate, Err: err}
	}
	run.Data = &payload
	run.Metadata.RecordCount = payload.RecordCount

	name := artifactName(*run)
	artifacts := make([]Artifact, 0, len(settings.Formats))
	for _, format := range settings.Formats {
		art, err := callWithTimeout(ctx, p.renderTimeout, "render "+string(format),
			func(ctx context.Context) (Artifact, error) {
				return p.renderer.Render(ctx, payload, format, name)
			})
		if err != nil {
			return &generic.StageError{Stage: generic.StageRender, Err: err}
		}
		run.Artifacts[format] = art.Locator
		run.Metadata.ByteSize += art.Size
		artifacts = append(artifacts, art)
	}

	if err := context.Cause(ctx); err != nil {
		return err
	}
	if err := run.transition(RunCompleted, p.clock.Now()); err != nil {
		return err
	}
	if len(run.Recipients) == 0 {
		return nil
	}
	if err := p.store.UpdateRun(ctx, *run); err != nil {
		p.log.WithField("run_id", run.ID).WithError(err).Warn("persist completed run before dispatch")
	}

	delivery := Delivery{
		RunID:      run.ID,
		JobID:      run.ScheduledReportID,
		ReportType: run.ReportType,
		DateRange:  run.DateRange,
		Artifacts:  artifacts,
		Recipients: run.Recipients,
	}
	_, err = callWithTimeout(ctx, p.dispatchTimeout, "dispatch", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.dispatcher.Send(ctx, delivery)
	})
	if err != nil {
		return &generic.StageError{Stage: generic.StageDispatch, Err: err}
	}
	return run.transition(RunSent, p.clock.Now())
}

// callWithTimeout runs fn with a deadline. A collaborator that ignores its
// context is abandoned when the deadline passes.
func callWithTimeout[T any](ctx context.Context, d time.Duration, what string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s %w after %s", what, ErrTimeout, d)
		}
		if r.err != nil && errors.Is(r.err, context.Canceled) {
			// Report why the caller's context ended, e.g. a lost job lock.
			return zero, context.Cause(ctx)
		}
		return r.v, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s %w after %s", what, ErrTimeout, d)
		}
		return zero, context.Cause(ctx)
	}
}

// artifactName is "<type>-<start>-<end>-<run id prefix>".
func artifactName(run GeneratedReportRun) string {
	id := string(run.ID)
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s-%s-%s-%s", run.ReportType,
		run.DateRange.Start.Format("20060102"), run.DateRange.End.Format("20060102"), id)
}

func lockKey(id JobID) string { return "report-job:" + string(id) }
