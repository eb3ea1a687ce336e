package reports_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/analytics"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/locks"
	"github.com/warp/report-engine/reports"
	"github.com/warp/report-engine/schedule"
	"github.com/warp/report-engine/store/memory"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAggregator struct {
	failFor map[generic.ReportType]error
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeAggregator) Aggregate(ctx context.Context, t generic.ReportType, r generic.DateRange, _ generic.RecordFilter) (analytics.Payload, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if err := f.failFor[t]; err != nil {
		return analytics.Payload{}, err
	}
	return analytics.Payload{Type: t, Range: r, RecordCount: 7}, nil
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Render(_ context.Context, _ analytics.Payload, format reports.Format, name string) (reports.Artifact, error) {
	if f.err != nil {
		return reports.Artifact{}, f.err
	}
	return reports.Artifact{Format: format, Locator: "mem://" + name + "." + string(format), Size: 10}, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	err   error
	block bool
	sent  []reports.Delivery
}

func (f *fakeDispatcher) Send(ctx context.Context, d reports.Delivery) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, d)
	return f.err
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type busyLocker struct{}

func (busyLocker) TryLock(ctx context.Context, _ string) (context.Context, func(), bool, error) {
	return ctx, nil, false, nil
}

// lostLocker grants the lock, but it is already gone by the time work starts.
type lostLocker struct{}

func (lostLocker) TryLock(ctx context.Context, key string) (context.Context, func(), bool, error) {
	held, cancel := context.WithCancelCause(ctx)
	cancel(fmt.Errorf("%w: %s", locks.ErrLockLost, key))
	return held, func() {}, true, nil
}

// failingRunStore cannot record runs.
type failingRunStore struct {
	reports.Store
}

func (failingRunStore) CreateRun(context.Context, reports.GeneratedReportRun) error {
	return errors.New("disk full")
}

// =============================================================================
// HARNESS
// =============================================================================

// 2024-03-15T10:00Z, a Friday.
var created = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	store      *memory.Store
	aggregator *fakeAggregator
	renderer   *fakeRenderer
	dispatcher *fakeDispatcher
	pipeline   *reports.Pipeline
}

func newHarness(t *testing.T, mod func(*reports.Config)) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{
		store:      memory.New(),
		aggregator: &fakeAggregator{},
		renderer:   &fakeRenderer{},
		dispatcher: &fakeDispatcher{},
	}
	cfg := reports.Config{
		Store:      h.store,
		Aggregator: h.aggregator,
		Renderer:   h.renderer,
		Dispatcher: h.dispatcher,
		Clock:      generic.FixedClock{T: created},
		Logger:     log,
	}
	if mod != nil {
		mod(&cfg)
	}
	h.pipeline = reports.NewPipeline(cfg)
	return h
}

func monthlyJob(reportType generic.ReportType, recipients ...string) reports.ScheduledReportJob {
	return reports.ScheduledReportJob{
		Name:       "Owner statement",
		OwnerID:    "owner-1",
		ReportType: reportType,
		Schedule:   schedule.Config{Frequency: schedule.Monthly, DayOfMonth: schedule.Int(1), Time: "09:00", Timezone: "UTC"},
		Settings: reports.Settings{
			DateRange: generic.RangeSpec{Selector: generic.RangeLastMonth},
			Formats:   []reports.Format{reports.FormatCSV, reports.FormatJSON},
		},
		Recipients: recipients,
		IsActive:   len(recipients) > 0,
	}
}

func (h *harness) create(t *testing.T, job reports.ScheduledReportJob) reports.ScheduledReportJob {
	t.Helper()
	out, err := h.pipeline.CreateJob(context.Background(), job)
	require.NoError(t, err)
	return out
}

func (h *harness) reload(t *testing.T, id reports.JobID) reports.ScheduledReportJob {
	t.Helper()
	job, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

// =============================================================================
// JOB LIFECYCLE
// =============================================================================

func TestCreateJob_FirstRun(t *testing.T) {
	// GIVEN: Monthly on the 1st at 09:00 UTC, created 2024-03-15T10:00Z
	h := newHarness(t, nil)

	// WHEN: The job is created
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	// THEN: The first run is 2024-04-01T09:00Z
	assert.Equal(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), job.NextRun)
	assert.Equal(t, 1, job.Version)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, job, h.reload(t, job.ID))
}

func TestCreateJob_RejectsConfigErrors(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name  string
		edit  func(*reports.ScheduledReportJob)
		field string
	}{
		{"missing day of month", func(j *reports.ScheduledReportJob) { j.Schedule.DayOfMonth = nil }, "dayOfMonth"},
		{"bad time", func(j *reports.ScheduledReportJob) { j.Schedule.Time = "9am" }, "time"},
		{"unknown type", func(j *reports.ScheduledReportJob) { j.ReportType = "weather" }, "reportType"},
		{"active without recipients", func(j *reports.ScheduledReportJob) { j.Recipients = nil }, "recipients"},
		{"no formats", func(j *reports.ScheduledReportJob) { j.Settings.Formats = nil }, "formats"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := monthlyJob(generic.ReportFinancial, "owner@example.com")
			tt.edit(&job)

			_, err := h.pipeline.CreateJob(context.Background(), job)

			var cfgErr *generic.ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
	jobs, err := h.store.ListJobs(context.Background(), reports.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestUpdateJob_RecomputesNextRunOnlyWhenScheduleChanges(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	// WHEN: Only the name changes
	renamed, err := h.pipeline.UpdateJob(context.Background(), job.ID, func(j *reports.ScheduledReportJob) error {
		j.Name = "Renamed"
		return nil
	})
	require.NoError(t, err)

	// THEN: nextRun is unchanged, version bumps
	assert.Equal(t, job.NextRun, renamed.NextRun)
	assert.Equal(t, 2, renamed.Version)

	// WHEN: The schedule moves to the 20th
	moved, err := h.pipeline.UpdateJob(context.Background(), job.ID, func(j *reports.ScheduledReportJob) error {
		j.Schedule.DayOfMonth = schedule.Int(20)
		return nil
	})
	require.NoError(t, err)

	// THEN: nextRun is recomputed from now: the 20th of next month
	assert.Equal(t, time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC), moved.NextRun)
	assert.Equal(t, moved, h.reload(t, job.ID))
}

func TestUpdateJob_Errors(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	_, err := h.pipeline.UpdateJob(context.Background(), "missing", func(*reports.ScheduledReportJob) error { return nil })
	assert.True(t, generic.IsNotFound(err))

	_, err = h.pipeline.UpdateJob(context.Background(), job.ID, func(j *reports.ScheduledReportJob) error {
		j.Schedule.Timezone = "Mars/Olympus"
		return nil
	})
	assert.ErrorIs(t, err, generic.ErrConfig)
	assert.Equal(t, job, h.reload(t, job.ID))
}

func TestDeleteJob(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	require.NoError(t, h.pipeline.DeleteJob(context.Background(), job.ID))

	_, err := h.store.GetJob(context.Background(), job.ID)
	assert.True(t, generic.IsNotFound(err))
	assert.True(t, generic.IsNotFound(h.pipeline.DeleteJob(context.Background(), job.ID)))
}

// =============================================================================
// SCHEDULED RUNS
// =============================================================================

func TestRunScheduledJob_SentWithRecipients(t *testing.T) {
	// GIVEN: A due job with recipients
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	now := job.NextRun

	// WHEN: It runs
	run, err := h.pipeline.RunScheduledJob(context.Background(), job, now)

	// THEN: Generating -> Completed -> Sent, with both artifacts delivered
	require.NoError(t, err)
	assert.Equal(t, reports.RunSent, run.Status)
	assert.Equal(t, job.ID, run.ScheduledReportID)
	assert.Len(t, run.Artifacts, 2)
	assert.Equal(t, int64(20), run.Metadata.ByteSize)
	assert.Equal(t, 7, run.Metadata.RecordCount)
	assert.NotNil(t, run.FinishedAt)
	assert.True(t, run.IsTerminal())

	// AND: last_month relative to April 1st is March
	assert.Equal(t, generic.Period{Year: 2024, Month: 3}.Range(), run.DateRange)

	require.Equal(t, 1, h.dispatcher.count())
	d := h.dispatcher.sent[0]
	assert.Equal(t, run.ID, d.RunID)
	assert.Equal(t, []string{"owner@example.com"}, d.Recipients)
	assert.Len(t, d.Artifacts, 2)

	// AND: The job advanced
	stored := h.reload(t, job.ID)
	require.NotNil(t, stored.LastRun)
	assert.Equal(t, now, *stored.LastRun)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), stored.NextRun)

	persisted, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, reports.RunSent, persisted.Status)
}

func TestRunScheduledJob_CompletedWithoutRecipients(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportPortfolio))

	run, err := h.pipeline.RunScheduledJob(context.Background(), job, job.NextRun)

	require.NoError(t, err)
	assert.Equal(t, reports.RunCompleted, run.Status)
	assert.True(t, run.IsTerminal())
	assert.Zero(t, h.dispatcher.count())
}

func TestRunScheduledJob_AggregatorFailureStillAdvances(t *testing.T) {
	// GIVEN: An aggregator that fails for financial reports
	h := newHarness(t, nil)
	h.aggregator.failFor = map[generic.ReportType]error{generic.ReportFinancial: errors.New("ledger unavailable")}
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	now := job.NextRun

	// WHEN: The job runs
	run, err := h.pipeline.RunScheduledJob(context.Background(), job, now)

	// THEN: The run failed with the message verbatim
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrAggregation)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Equal(t, "ledger unavailable", run.Error)
	assert.Nil(t, run.Data)

	// AND: nextRun still moved to a future instant
	stored := h.reload(t, job.ID)
	assert.True(t, stored.NextRun.After(now))
	persisted, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ledger unavailable", persisted.Error)
	assert.Zero(t, h.dispatcher.count())
}

func TestRunScheduledJob_RunStoreFailureStillAdvances(t *testing.T) {
	// GIVEN: A store that cannot record runs
	h := newHarness(t, func(c *reports.Config) { c.Store = failingRunStore{Store: c.Store} })
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	now := job.NextRun

	// WHEN: The job comes due
	summary, err := h.pipeline.RunDue(context.Background(), now)
	require.NoError(t, err)

	// THEN: The run failed before any stage
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, h.aggregator.calls.Load())

	// AND: The job still advanced, so the next tick does not retry it
	stored := h.reload(t, job.ID)
	assert.True(t, stored.NextRun.After(now))
	require.NotNil(t, stored.LastRun)
	assert.Equal(t, now, *stored.LastRun)

	again, err := h.pipeline.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, again.Due)

	// AND: Called directly, the store error is returned
	_, err = h.pipeline.RunScheduledJob(context.Background(), stored, stored.NextRun)
	assert.ErrorContains(t, err, "create run: disk full")
}

func TestRunScheduledJob_RenderFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.renderer.err = errors.New(`unsupported format "pdf"`)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	run, err := h.pipeline.RunScheduledJob(context.Background(), job, job.NextRun)

	assert.ErrorIs(t, err, generic.ErrRender)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Equal(t, `unsupported format "pdf"`, run.Error)
	assert.Zero(t, h.dispatcher.count())
}

func TestRunScheduledJob_DispatchFailureFailsCompletedRun(t *testing.T) {
	h := newHarness(t, nil)
	h.dispatcher.err = errors.New("smtp: connection refused")
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	run, err := h.pipeline.RunScheduledJob(context.Background(), job, job.NextRun)

	assert.ErrorIs(t, err, generic.ErrDispatch)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Equal(t, "smtp: connection refused", run.Error)
	assert.Len(t, run.Artifacts, 2)
}

func TestRunScheduledJob_DispatchTimeout(t *testing.T) {
	// GIVEN: A dispatcher that never returns on its own
	h := newHarness(t, func(c *reports.Config) { c.DispatchTimeout = 20 * time.Millisecond })
	h.dispatcher.block = true
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	// WHEN: The job runs
	run, err := h.pipeline.RunScheduledJob(context.Background(), job, job.NextRun)

	// THEN: The run fails naming the timeout
	assert.ErrorIs(t, err, reports.ErrTimeout)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Equal(t, "dispatch timed out after 20ms", run.Error)
}

func TestRunScheduledJob_BusyJob(t *testing.T) {
	h := newHarness(t, func(c *reports.Config) { c.Locker = busyLocker{} })
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	_, err := h.pipeline.RunScheduledJob(context.Background(), job, job.NextRun)

	assert.ErrorIs(t, err, reports.ErrJobBusy)
	assert.True(t, generic.IsConflict(err))
	assert.Zero(t, h.aggregator.calls.Load())
}

// =============================================================================
// RUN DUE
// =============================================================================

func TestRunScheduledJob_LostLockFailsRun(t *testing.T) {
	// GIVEN: A job lock that is lost before the stages start
	h := newHarness(t, func(c *reports.Config) { c.Locker = lostLocker{} })
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	now := job.NextRun

	// WHEN: The job runs
	run, err := h.pipeline.RunScheduledJob(context.Background(), job, now)

	// THEN: No stage ran and the run is recorded as failed
	assert.ErrorIs(t, err, locks.ErrLockLost)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Zero(t, h.aggregator.calls.Load())
	assert.Zero(t, h.dispatcher.count())

	persisted, err := h.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, reports.RunFailed, persisted.Status)
	assert.Contains(t, persisted.Error, "lock lost")

	// AND: The schedule still advanced
	assert.True(t, h.reload(t, job.ID).NextRun.After(now))
}

func TestRunDue_Summary(t *testing.T) {
	// GIVEN: Two due jobs (one failing) and one created later, not yet due
	h := newHarness(t, nil)
	h.aggregator.failFor = map[generic.ReportType]error{generic.ReportMaintenance: errors.New("maintenance feed down")}
	ok := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	failing := h.create(t, monthlyJob(generic.ReportMaintenance, "ops@example.com"))
	later := monthlyJob(generic.ReportPortfolio, "owner@example.com")
	later.Schedule.DayOfMonth = schedule.Int(2)
	notDue := h.create(t, later)
	now := ok.NextRun

	// WHEN: One pass runs at April 1st 09:00
	summary, err := h.pipeline.RunDue(context.Background(), now)

	// THEN: Failures are counted, not returned
	require.NoError(t, err)
	assert.Equal(t, reports.TickSummary{Due: 2, Succeeded: 1, Failed: 1}, summary)
	assert.True(t, h.reload(t, ok.ID).NextRun.After(now))
	assert.True(t, h.reload(t, failing.ID).NextRun.After(now))
	assert.Equal(t, notDue.NextRun, h.reload(t, notDue.ID).NextRun)

	failed, err := h.store.ListRuns(context.Background(), reports.RunFilter{JobID: failing.ID})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, reports.RunFailed, failed[0].Status)

	// AND: A second pass at the same instant finds nothing due
	summary, err = h.pipeline.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, reports.TickSummary{}, summary)
}

func TestRunDue_SkipsInactiveJobs(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial))
	require.False(t, job.IsActive)

	summary, err := h.pipeline.RunDue(context.Background(), job.NextRun.Add(time.Hour))

	require.NoError(t, err)
	assert.Zero(t, summary.Due)
	assert.Zero(t, h.aggregator.calls.Load())
}

func TestRunDue_AtMostOneRunPerJob(t *testing.T) {
	// GIVEN: A due job whose aggregation is held open
	h := newHarness(t, nil)
	h.aggregator.entered = make(chan struct{}, 1)
	h.aggregator.release = make(chan struct{})
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	now := job.NextRun

	first := make(chan reports.TickSummary, 1)
	go func() {
		s, _ := h.pipeline.RunDue(context.Background(), now)
		first <- s
	}()
	<-h.aggregator.entered

	// WHEN: A second pass starts while the first is in flight
	second, err := h.pipeline.RunDue(context.Background(), now)
	require.NoError(t, err)
	close(h.aggregator.release)

	// THEN: The second pass skips the job and only one run exists
	assert.Equal(t, reports.TickSummary{Due: 1, Skipped: 1}, second)
	assert.Equal(t, reports.TickSummary{Due: 1, Succeeded: 1}, <-first)
	runs, err := h.store.ListRuns(context.Background(), reports.RunFilter{JobID: job.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestRunDue_DistinctJobsRunConcurrently(t *testing.T) {
	h := newHarness(t, func(c *reports.Config) { c.Concurrency = 4 })
	for i := 0; i < 6; i++ {
		h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))
	}

	summary, err := h.pipeline.RunDue(context.Background(), time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	assert.Equal(t, reports.TickSummary{Due: 6, Succeeded: 6}, summary)
	assert.Equal(t, 6, h.dispatcher.count())
}

// =============================================================================
// MANUAL GENERATION
// =============================================================================

func TestGenerate_DoesNotTouchJobs(t *testing.T) {
	h := newHarness(t, nil)
	job := h.create(t, monthlyJob(generic.ReportFinancial, "owner@example.com"))

	run, err := h.pipeline.Generate(context.Background(), reports.GenerateRequest{
		ReportType: generic.ReportFinancial,
		Settings:   job.Settings,
	})

	require.NoError(t, err)
	assert.Equal(t, reports.RunCompleted, run.Status)
	assert.Empty(t, run.ScheduledReportID)
	assert.Equal(t, job, h.reload(t, job.ID))
	assert.Equal(t, generic.Period{Year: 2024, Month: 2}.Range(), run.DateRange)
}

func TestGenerate_FailureReturnsRunAndError(t *testing.T) {
	h := newHarness(t, nil)
	h.aggregator.failFor = map[generic.ReportType]error{generic.ReportTenant: errors.New("tenant index corrupt")}

	run, err := h.pipeline.Generate(context.Background(), reports.GenerateRequest{
		ReportType: generic.ReportTenant,
		Settings:   reports.Settings{DateRange: generic.RangeSpec{Selector: generic.RangeLast30Days}, Formats: []reports.Format{reports.FormatCSV}},
		Recipients: []string{"owner@example.com"},
	})

	require.EqualError(t, err, "tenant index corrupt")
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, reports.RunFailed, run.Status)
	assert.Equal(t, "tenant index corrupt", run.Error)
}

func TestGenerate_RejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, nil)

	run, err := h.pipeline.Generate(context.Background(), reports.GenerateRequest{
		ReportType: generic.ReportFinancial,
		Settings:   reports.Settings{DateRange: generic.RangeSpec{Selector: "next_week"}, Formats: []reports.Format{reports.FormatCSV}},
	})

	assert.ErrorIs(t, err, generic.ErrConfig)
	assert.Empty(t, run.ID)
	assert.Zero(t, h.aggregator.calls.Load())
}

// =============================================================================
// RUN STATE MACHINE
// =============================================================================

func TestRunTransitions(t *testing.T) {
	withRecipients := []string{"a@example.com"}
	tests := []struct {
		status     reports.RunStatus
		recipients []string
		next       reports.RunStatus
		allowed    bool
	}{
		{reports.RunGenerating, nil, reports.RunCompleted, true},
		{reports.RunGenerating, nil, reports.RunFailed, true},
		{reports.RunGenerating, nil, reports.RunSent, false},
		{reports.RunCompleted, withRecipients, reports.RunSent, true},
		{reports.RunCompleted, withRecipients, reports.RunFailed, true},
		{reports.RunCompleted, nil, reports.RunSent, false},
		{reports.RunCompleted, nil, reports.RunFailed, false},
		{reports.RunSent, withRecipients, reports.RunFailed, false},
		{reports.RunFailed, nil, reports.RunCompleted, false},
	}
	for _, tt := range tests {
		run := reports.GeneratedReportRun{Status: tt.status, Recipients: tt.recipients}
		assert.Equal(t, tt.allowed, run.CanTransition(tt.next), "%s(%d recipients) -> %s", tt.status, len(tt.recipients), tt.next)
	}
}
