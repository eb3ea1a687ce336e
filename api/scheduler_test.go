package api

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reports"
)

type countingPipeline struct {
	calls atomic.Int32
	mu    sync.Mutex
	seen  []time.Time
	err   error
}

func (p *countingPipeline) RunDue(_ context.Context, now time.Time) (reports.TickSummary, error) {
	p.calls.Add(1)
	p.mu.Lock()
	p.seen = append(p.seen, now)
	p.mu.Unlock()
	return reports.TickSummary{Due: 1, Succeeded: 1}, p.err
}

func TestReportScheduler_RunsImmediatelyOnStart(t *testing.T) {
	// GIVEN: A scheduler with a long interval
	log, _ := test.NewNullLogger()
	p := &countingPipeline{}
	s := NewReportScheduler(p, generic.FixedClock{T: testNow}, log)
	s.CheckInterval = time.Hour

	// WHEN: It starts
	s.Start()
	defer s.Stop()

	// THEN: One pass runs without waiting for the ticker
	assert.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestReportScheduler_TicksAndStops(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &countingPipeline{}
	s := NewReportScheduler(p, nil, log)
	s.CheckInterval = 10 * time.Millisecond

	s.Start()
	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	after := p.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, p.calls.Load())
}

func TestReportScheduler_Disabled(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &countingPipeline{}
	s := NewReportScheduler(p, nil, log)
	s.Enabled = false

	s.Start()
	s.Stop()

	assert.Equal(t, int32(0), p.calls.Load())
}

func TestReportScheduler_RunNow(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &countingPipeline{err: errors.New("store down")}
	s := NewReportScheduler(p, generic.FixedClock{T: testNow}, log)

	summary, err := s.RunNow(context.Background())

	assert.EqualError(t, err, "store down")
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, []time.Time{testNow}, p.seen)
	assert.Equal(t, testNow.Add(time.Minute), s.GetNextRunTime())
}

func TestReportScheduler_DrivesPipeline(t *testing.T) {
	// GIVEN: A job that is due
	env := newTestEnv(t, RouterOptions{})
	var job reports.ScheduledReportJob
	decodeBody(t, env.do(t, "POST", "/api/reports/schedules", monthlySchedule), &job)

	log, _ := test.NewNullLogger()
	later := generic.FixedClock{T: job.NextRun.Add(time.Minute)}
	s := NewReportScheduler(env.handler.Pipeline, later, log)

	// WHEN: A pass runs after nextRun
	summary, err := s.RunNow(context.Background())

	// THEN: The job ran and was advanced
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Succeeded)
	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, stored.NextRun.After(later.T))
	require.NotNil(t, stored.LastRun)
}
