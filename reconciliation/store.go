package reconciliation

import (
	"context"

	"github.com/warp/report-engine/generic"
)

// Filter selects records. A nil Period matches every period.
type Filter struct {
	Period *generic.Period
	Status Status
}

func (f Filter) Matches(r Record) bool {
	if f.Period != nil && r.Period != *f.Period {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// Store persists records. Records are never deleted.
type Store interface {
	// CreateReconciliationIfNoneOpen inserts r unless another record for
	// r.Period is still open. The check and the insert are atomic. Returns
	// generic.ErrConflict when an open record exists or r.ID is taken.
	CreateReconciliationIfNoneOpen(ctx context.Context, r Record) error
	GetReconciliation(ctx context.Context, id RecordID) (Record, error)

	// ListReconciliations returns matching records, newest first.
	ListReconciliations(ctx context.Context, filter Filter) ([]Record, error)

	// UpdateReconciliationIfVersion writes r only if the stored version
	// equals expected, storing it with Version = expected+1. Returns
	// generic.ErrConcurrentModification on mismatch.
	UpdateReconciliationIfVersion(ctx context.Context, r Record, expected int) error
}
