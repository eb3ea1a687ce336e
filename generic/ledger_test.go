package generic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/report-engine/generic"
)

// unfilteredSource ignores the filter, like a backend with a sloppy range query.
type unfilteredSource struct {
	txs []generic.Transaction
	err error
}

func (s unfilteredSource) Transactions(context.Context, generic.RecordFilter) ([]generic.Transaction, error) {
	return append([]generic.Transaction(nil), s.txs...), s.err
}
func (unfilteredSource) Properties(context.Context, generic.RecordFilter) ([]generic.Property, error) {
	return nil, nil
}
func (unfilteredSource) Units(context.Context, generic.RecordFilter) ([]generic.Unit, error) {
	return nil, nil
}
func (unfilteredSource) Tenants(context.Context, generic.RecordFilter) ([]generic.Tenant, error) {
	return nil, nil
}
func (unfilteredSource) Leases(context.Context, generic.RecordFilter) ([]generic.Lease, error) {
	return nil, nil
}
func (unfilteredSource) MaintenanceRequests(context.Context, generic.RecordFilter) ([]generic.MaintenanceRequest, error) {
	return nil, nil
}

func TestLedger_SnapshotKeepsOnlyPeriod(t *testing.T) {
	// GIVEN: A source returning entries from outside March too
	src := unfilteredSource{txs: []generic.Transaction{
		{ID: "TX-FEB", Amount: decimal.NewFromInt(999), Date: utc(2024, 2, 29, 23, 0)},
		{ID: "TX-1", Amount: decimal.NewFromInt(12000), Date: utc(2024, 3, 1, 0, 0), Status: generic.TxCompleted},
		{ID: "TX-2", Amount: decimal.RequireFromString("450.75"), Date: utc(2024, 3, 31, 23, 0), Status: generic.TxPending},
		{ID: "TX-3", Amount: decimal.NewFromInt(-50), Date: utc(2024, 3, 15, 0, 0), Status: generic.TxFailed},
		{ID: "TX-APR", Amount: decimal.NewFromInt(1), Date: utc(2024, 4, 1, 0, 0)},
	}}

	// WHEN: Snapshotting March
	snap, err := generic.NewLedger(src).Snapshot(context.Background(), generic.Period{Year: 2024, Month: time.March})

	// THEN: Only March entries, every status counted
	require.NoError(t, err)
	assert.Equal(t, []generic.TransactionID{"TX-1", "TX-2", "TX-3"}, snap.IDs())
	assert.True(t, decimal.RequireFromString("12400.75").Equal(snap.Total()), snap.Total().String())
}

func TestLedger_SnapshotError(t *testing.T) {
	src := unfilteredSource{err: errors.New("disk gone")}

	_, err := generic.NewLedger(src).Snapshot(context.Background(), generic.Period{Year: 2024, Month: time.March})

	assert.EqualError(t, err, "load ledger for 2024-03: disk gone")
}
