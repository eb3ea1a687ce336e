/*
Package reconciliation checks a month of the ledger against a bank statement.

PURPOSE:
  A Record tracks one calendar month: the ledger total, the statement total,
  their difference, per-transaction discrepancies and which of the month's
  transactions have been reconciled so far.

STATUS LIFECYCLE:
  Pending     -> Reconciled   (statement within tolerance)
  Pending     -> Discrepancy  (statement outside tolerance)
  Discrepancy -> Reconciled   (corrected statement, or explicit resolution)
  Discrepancy -> Disputed     (explicit dispute)
  Disputed    -> Discrepancy  (reopen)
  A Reconciled record is never changed in place; start a new record instead.

CRITICAL INVARIANTS:
  1. PARTITION: Reconciled and Unreconciled ids are disjoint and their union
     is the set of transactions dated in the period at start
  2. MONOTONIC: ids only move from Unreconciled to Reconciled

SEE ALSO:
  - matcher.go: Pure state transitions
  - statement.go: Ledger vs statement line matching
  - service.go: Store-backed operations with compare-and-swap
*/
package reconciliation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
)

// Tolerance is the largest absolute difference, exclusive, that still
// counts as reconciled. One currency unit.
var Tolerance = decimal.NewFromInt(1)

type RecordID string

type Status string

const (
	StatusPending     Status = "pending"
	StatusReconciled  Status = "reconciled"
	StatusDiscrepancy Status = "discrepancy"
	StatusDisputed    Status = "disputed"
)

// Discrepancy reasons.
const (
	ReasonAmountMismatch       = "amount_mismatch"
	ReasonMissingFromStatement = "missing_from_statement"
	ReasonMissingFromLedger    = "missing_from_ledger"
)

// Discrepancy is one ledger/statement mismatch. TransactionID is empty for
// statement lines with no ledger counterpart.
type Discrepancy struct {
	TransactionID   generic.TransactionID `json:"transactionId,omitempty"`
	Reference       string                `json:"reference,omitempty"`
	LedgerAmount    decimal.Decimal       `json:"ledgerAmount"`
	StatementAmount decimal.Decimal       `json:"statementAmount"`
	Difference      decimal.Decimal       `json:"difference"`
	Reason          string                `json:"reason,omitempty"`
}

type Note struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

type Record struct {
	ID                         RecordID                `json:"id"`
	Period                     generic.Period          `json:"period"`
	LedgerTotal                decimal.Decimal         `json:"ledgerTotal"`
	StatementTotal             decimal.Decimal         `json:"statementTotal"`
	Difference                 decimal.Decimal         `json:"difference"`
	Status                     Status                  `json:"status"`
	ReconciledTransactionIDs   []generic.TransactionID `json:"reconciledTransactionIds"`
	UnreconciledTransactionIDs []generic.TransactionID `json:"unreconciledTransactionIds"`
	Discrepancies              []Discrepancy           `json:"discrepancies"`
	Notes                      []Note                  `json:"notes,omitempty"`
	StatementApplied           bool                    `json:"statementApplied"`
	CreatedAt                  time.Time               `json:"createdAt"`
	CompletedAt                *time.Time              `json:"completedAt,omitempty"`
	Version                    int                     `json:"version"`
}

// IsOpen reports whether the record still needs work.
func (r Record) IsOpen() bool { return r.Status != StatusReconciled }

// WithinTolerance reports whether |difference| < Tolerance.
func WithinTolerance(difference decimal.Decimal) bool {
	return difference.Abs().LessThan(Tolerance)
}

// CheckPartition verifies the reconciled/unreconciled sets are disjoint and
// free of duplicates.
func (r Record) CheckPartition() error {
	seen := make(map[generic.TransactionID]bool, len(r.ReconciledTransactionIDs)+len(r.UnreconciledTransactionIDs))
	for _, id := range r.ReconciledTransactionIDs {
		if seen[id] {
			return fmt.Errorf("transaction %s listed twice", id)
		}
		seen[id] = true
	}
	for _, id := range r.UnreconciledTransactionIDs {
		if seen[id] {
			return fmt.Errorf("transaction %s is both reconciled and unreconciled", id)
		}
		seen[id] = true
	}
	return nil
}

// TransactionIDs is the union of both sets, sorted.
func (r Record) TransactionIDs() []generic.TransactionID {
	all := append(append([]generic.TransactionID(nil), r.ReconciledTransactionIDs...), r.UnreconciledTransactionIDs...)
	sortIDs(all)
	return all
}

// =============================================================================
// ID SET HELPERS
// =============================================================================

// moveToReconciled moves every id in ids that is currently unreconciled.
// Ids not in the unreconciled set are ignored.
func (r *Record) moveToReconciled(ids []generic.TransactionID) {
	if len(ids) == 0 {
		return
	}
	move := make(map[generic.TransactionID]bool, len(ids))
	for _, id := range ids {
		move[id] = true
	}
	// r is a copy but its slices still share arrays with the caller's record.
	reconciled := append([]generic.TransactionID(nil), r.ReconciledTransactionIDs...)
	remaining := make([]generic.TransactionID, 0, len(r.UnreconciledTransactionIDs))
	for _, id := range r.UnreconciledTransactionIDs {
		if move[id] {
			reconciled = append(reconciled, id)
		} else {
			remaining = append(remaining, id)
		}
	}
	sortIDs(reconciled)
	r.ReconciledTransactionIDs = reconciled
	r.UnreconciledTransactionIDs = remaining
}

func (r *Record) reconcileAll() {
	r.moveToReconciled(r.UnreconciledTransactionIDs)
	r.UnreconciledTransactionIDs = []generic.TransactionID{}
}

func sortIDs(ids []generic.TransactionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func idSet(ids []generic.TransactionID) map[generic.TransactionID]bool {
	m := make(map[generic.TransactionID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
