package reconciliation_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reconciliation"
	"github.com/warp/report-engine/store/memory"
)

// racingStore reports a lost compare-and-swap for the first failures writes.
type racingStore struct {
	*memory.Store
	failures int32
	attempts atomic.Int32
}

func (s *racingStore) UpdateReconciliationIfVersion(ctx context.Context, r reconciliation.Record, expected int) error {
	if s.attempts.Add(1) <= s.failures {
		return generic.ErrConcurrentModification
	}
	return s.Store.UpdateReconciliationIfVersion(ctx, r, expected)
}

// barrierSource holds every Transactions call until all expected callers
// have arrived, so snapshots overlap.
type barrierSource struct {
	*memory.Store
	arrived *sync.WaitGroup
}

func (b *barrierSource) Transactions(ctx context.Context, f generic.RecordFilter) ([]generic.Transaction, error) {
	b.arrived.Done()
	b.arrived.Wait()
	return b.Store.Transactions(ctx, f)
}

func newService(t *testing.T, store reconciliation.Store, data *memory.Store) *reconciliation.Service {
	t.Helper()
	log, _ := test.NewNullLogger()
	return reconciliation.NewService(store, generic.NewLedger(data), nil, generic.FixedClock{T: now}, log)
}

func seededStore() *memory.Store {
	s := memory.New()
	s.AddTransactions(
		tx("TX-1", "RENT-MAR", "12000", 1),
		tx("TX-2", "", "450.75", 5),
		generic.Transaction{ID: "TX-FEB", Amount: dec("999"), Date: marchDay(1).AddDate(0, -1, 0)},
	)
	return s
}

func TestService_StartSnapshotsPeriod(t *testing.T) {
	data := seededStore()
	svc := newService(t, data, data)

	rec, err := svc.Start(context.Background(), march)

	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assertDecimal(t, "12450.75", rec.LedgerTotal)
	assertPartition(t, rec, "TX-1", "TX-2")

	stored, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestService_StartConflictsWhileOpen(t *testing.T) {
	// GIVEN: An open March record
	data := seededStore()
	svc := newService(t, data, data)
	rec, err := svc.Start(context.Background(), march)
	require.NoError(t, err)

	// WHEN: March is started again
	_, err = svc.Start(context.Background(), march)

	// THEN: Conflict
	assert.ErrorIs(t, err, generic.ErrConflict)

	// AND: Once reconciled, a new record may be started
	_, err = svc.ApplyStatement(context.Background(), rec.ID, reconciliation.Statement{Total: dec("12450.75")})
	require.NoError(t, err)
	again, err := svc.Start(context.Background(), march)
	require.NoError(t, err)
	assert.NotEqual(t, rec.ID, again.ID)

	all, err := svc.List(context.Background(), reconciliation.Filter{Period: &march})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	open, err := svc.List(context.Background(), reconciliation.Filter{Status: reconciliation.StatusPending})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, again.ID, open[0].ID)
}

func TestService_ConcurrentStartsOpenOneRecord(t *testing.T) {
	// GIVEN: Two starts for March whose ledger snapshots overlap
	data := seededStore()
	arrived := &sync.WaitGroup{}
	arrived.Add(2)
	log, _ := test.NewNullLogger()
	ledger := generic.NewLedger(&barrierSource{Store: data, arrived: arrived})
	svc := reconciliation.NewService(data, ledger, nil, generic.FixedClock{T: now}, log)

	// WHEN: Both run at once
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Start(context.Background(), march)
		}(i)
	}
	wg.Wait()

	// THEN: Exactly one succeeds and the other conflicts
	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case generic.IsConflict(err):
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	// AND: Only one open March record exists
	all, err := svc.List(context.Background(), reconciliation.Filter{Period: &march})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsOpen())
}

func TestService_LedgerChangesAfterStartAreIgnored(t *testing.T) {
	data := seededStore()
	svc := newService(t, data, data)
	rec, err := svc.Start(context.Background(), march)
	require.NoError(t, err)

	// WHEN: A late March entry lands before the statement
	data.AddTransactions(tx("TX-9", "LATE", "100", 20))
	out, err := svc.ApplyStatement(context.Background(), rec.ID, reconciliation.Statement{Total: dec("12450.75")})

	// THEN: The record keeps its original ids and total
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusReconciled, out.Status)
	assertDecimal(t, "12450.75", out.LedgerTotal)
	assertPartition(t, out, "TX-1", "TX-2")
}

func TestService_DiscrepancyLifecycle(t *testing.T) {
	data := seededStore()
	svc := newService(t, data, data)
	ctx := context.Background()
	rec, err := svc.Start(ctx, march)
	require.NoError(t, err)

	rec, err = svc.ApplyStatement(ctx, rec.ID, reconciliation.Statement{Total: dec("12000")})
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusDiscrepancy, rec.Status)
	assertDecimal(t, "450.75", rec.Difference)
	assert.Equal(t, 2, rec.Version)

	rec, err = svc.Dispute(ctx, rec.ID, "deposit missing")
	require.NoError(t, err)
	rec, err = svc.Reopen(ctx, rec.ID, "bank confirmed")
	require.NoError(t, err)
	rec, err = svc.Resolve(ctx, rec.ID, "posted in April")
	require.NoError(t, err)

	assert.Equal(t, reconciliation.StatusReconciled, rec.Status)
	assert.Equal(t, 5, rec.Version)
	assert.Len(t, rec.Notes, 3)
	assertPartition(t, rec, "TX-1", "TX-2")

	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Version, stored.Version)
	assert.Equal(t, reconciliation.StatusReconciled, stored.Status)
}

func TestService_RetriesLostCompareAndSwap(t *testing.T) {
	data := seededStore()
	racing := &racingStore{Store: data, failures: 2}
	svc := newService(t, racing, data)
	rec, err := svc.Start(context.Background(), march)
	require.NoError(t, err)

	out, err := svc.ApplyStatement(context.Background(), rec.ID, reconciliation.Statement{Total: dec("12000")})

	require.NoError(t, err)
	assert.Equal(t, int32(3), racing.attempts.Load())
	assert.Equal(t, reconciliation.StatusDiscrepancy, out.Status)
}

func TestService_GivesUpAfterRepeatedConflicts(t *testing.T) {
	data := seededStore()
	racing := &racingStore{Store: data, failures: 100}
	svc := newService(t, racing, data)
	rec, err := svc.Start(context.Background(), march)
	require.NoError(t, err)

	_, err = svc.ApplyStatement(context.Background(), rec.ID, reconciliation.Statement{Total: dec("12000")})

	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	stored, err := svc.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusPending, stored.Status)
}

func TestService_Errors(t *testing.T) {
	data := seededStore()
	svc := newService(t, data, data)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "missing", "")
	assert.True(t, generic.IsNotFound(err))
	_, err = svc.ApplyStatement(ctx, "missing", reconciliation.Statement{})
	assert.True(t, generic.IsNotFound(err))

	rec, err := svc.Start(ctx, march)
	require.NoError(t, err)
	_, err = svc.Dispute(ctx, rec.ID, "")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)

	stored, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Version)
}
