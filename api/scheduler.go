/*
scheduler.go - Periodic driver for scheduled reports

PURPOSE:
  Periodically asks the pipeline to run every job whose next run has
  passed. The pipeline does the listing, locking and state changes; this
  type only owns the clock tick.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - A pass that overruns the interval delays the next tick; passes never
    overlap
  - Stop cancels the in-flight pass and waits for it

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReportScheduler(pipeline, clock, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - reports/pipeline.go: RunDue
  - cmd/server/main.go: tick command (one pass, then exit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
)

// DuePipeline is the part of the pipeline the scheduler drives.
type DuePipeline interface {
	RunDue(ctx context.Context, now time.Time) (reports.TickSummary, error)
}

// ReportScheduler handles automated report runs.
type ReportScheduler struct {
	Pipeline      DuePipeline
	Clock         generic.Clock
	CheckInterval time.Duration
	Enabled       bool

	log    logrus.FieldLogger
	ticker *time.Ticker
	stop   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	passMu sync.Mutex
	last   time.Time
}

// NewReportScheduler creates a new scheduler.
func NewReportScheduler(pipeline DuePipeline, clock generic.Clock, log logrus.FieldLogger) *ReportScheduler {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReportScheduler{
		Pipeline:      pipeline,
		Clock:         clock,
		CheckInterval: time.Minute,
		Enabled:       true,
		log:           log.WithField("component", "scheduler"),
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (rs *ReportScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.log.Info("disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.stop = make(chan struct{})
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx)

	rs.log.WithField("interval", rs.CheckInterval.String()).Info("started")
}

// Stop stops the scheduler and waits for the current pass.
func (rs *ReportScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker == nil {
		return
	}
	rs.ticker.Stop()
	rs.cancel()
	close(rs.stop)
	rs.wg.Wait()
	rs.ticker = nil
	rs.log.Info("stopped")
}

func (rs *ReportScheduler) run(ctx context.Context) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess(ctx)
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReportScheduler) checkAndProcess(ctx context.Context) (reports.TickSummary, error) {
	rs.passMu.Lock()
	defer rs.passMu.Unlock()

	now := rs.Clock.Now()
	summary, err := rs.Pipeline.RunDue(ctx, now)
	rs.last = now

	entry := rs.log.WithFields(logrus.Fields{
		"due":       summary.Due,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})
	switch {
	case err != nil:
		entry.WithError(err).Error("scheduler pass failed")
	case summary.Due > 0:
		entry.Info("scheduler pass completed")
	default:
		entry.Debug("nothing due")
	}
	return summary, err
}

// RunNow triggers an immediate pass and returns its summary.
func (rs *ReportScheduler) RunNow(ctx context.Context) (reports.TickSummary, error) {
	return rs.checkAndProcess(ctx)
}

// GetNextRunTime returns when the next scheduled check will occur.
func (rs *ReportScheduler) GetNextRunTime() time.Time {
	rs.passMu.Lock()
	defer rs.passMu.Unlock()
	if rs.last.IsZero() {
		return rs.Clock.Now()
	}
	return rs.last.Add(rs.CheckInterval)
}
