package reconciliation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
)

// =============================================================================
// MATCHER - Pure status transitions over a Record
// =============================================================================
// Every method takes a Record by value and returns the updated copy. Nothing
// here touches a store or the clock.

type Matcher struct {
	Statements StatementMatcher
}

func NewMatcher(statements StatementMatcher) *Matcher {
	if statements == nil {
		statements = NewReferenceAmountMatcher()
	}
	return &Matcher{Statements: statements}
}

// Start opens a record for snapshot's period. Every transaction dated in the
// period starts unreconciled.
func (m *Matcher) Start(snapshot generic.LedgerSnapshot, now time.Time) Record {
	ids := snapshot.IDs()
	sortIDs(ids)
	return Record{
		ID:                         RecordID(uuid.NewString()),
		Period:                     snapshot.Period,
		LedgerTotal:                snapshot.Total(),
		StatementTotal:             decimal.Zero,
		Difference:                 decimal.Zero,
		Status:                     StatusPending,
		ReconciledTransactionIDs:   []generic.TransactionID{},
		UnreconciledTransactionIDs: ids,
		Discrepancies:              []Discrepancy{},
		CreatedAt:                  now,
	}
}

// ApplyStatement records the statement total and matches ledger entries
// against its lines. Matched entries become reconciled. Within tolerance the
// whole record becomes Reconciled; otherwise it moves to Discrepancy.
// entries may be a fresh ledger read: only ids in the record are considered.
func (m *Matcher) ApplyStatement(r Record, stmt Statement, entries []generic.Transaction, now time.Time) (Record, error) {
	if r.Status != StatusPending && r.Status != StatusDiscrepancy {
		return r, &generic.TransitionError{From: string(r.Status), To: "statement applied"}
	}

	r.StatementTotal = stmt.Total
	r.Difference = r.LedgerTotal.Sub(stmt.Total)
	r.StatementApplied = true

	members := idSet(r.TransactionIDs())
	inRecord := make([]generic.Transaction, 0, len(entries))
	for _, tx := range entries {
		if members[tx.ID] {
			inRecord = append(inRecord, tx)
		}
	}

	result := m.Statements.Match(inRecord, stmt.Lines)
	r.moveToReconciled(result.Matched)

	// Entries reconciled earlier are settled; only report open ones.
	reconciled := idSet(r.ReconciledTransactionIDs)
	r.Discrepancies = []Discrepancy{}
	for _, d := range result.Discrepancies {
		if d.TransactionID != "" && reconciled[d.TransactionID] {
			continue
		}
		r.Discrepancies = append(r.Discrepancies, d)
	}

	if WithinTolerance(r.Difference) {
		r.Status = StatusReconciled
		r.reconcileAll()
		r.Discrepancies = []Discrepancy{}
		completed := now
		r.CompletedAt = &completed
		return r, nil
	}
	r.Status = StatusDiscrepancy
	return r, nil
}

// Resolve accepts the open discrepancies: every remaining id becomes
// reconciled. The discrepancy list is kept as the record of what was accepted.
func (m *Matcher) Resolve(r Record, note string, now time.Time) (Record, error) {
	if r.Status != StatusDiscrepancy {
		return r, &generic.TransitionError{From: string(r.Status), To: string(StatusReconciled)}
	}
	r = appendNote(r, "resolved", note, now)
	r.reconcileAll()
	r.Status = StatusReconciled
	completed := now
	r.CompletedAt = &completed
	return r, nil
}

// Dispute marks the discrepancy as contested with the statement issuer.
func (m *Matcher) Dispute(r Record, note string, now time.Time) (Record, error) {
	if r.Status != StatusDiscrepancy {
		return r, &generic.TransitionError{From: string(r.Status), To: string(StatusDisputed)}
	}
	r = appendNote(r, "disputed", note, now)
	r.Status = StatusDisputed
	return r, nil
}

// Reopen returns a disputed record to Discrepancy.
func (m *Matcher) Reopen(r Record, note string, now time.Time) (Record, error) {
	if r.Status != StatusDisputed {
		return r, &generic.TransitionError{From: string(r.Status), To: string(StatusDiscrepancy)}
	}
	r = appendNote(r, "reopened", note, now)
	r.Status = StatusDiscrepancy
	return r, nil
}

// AddNote appends a note without changing status.
func (m *Matcher) AddNote(r Record, note string, now time.Time) Record {
	return appendNote(r, "", note, now)
}

func appendNote(r Record, action, text string, now time.Time) Record {
	text = strings.TrimSpace(text)
	if action != "" {
		if text == "" {
			text = action
		} else {
			text = action + ": " + text
		}
	}
	if text == "" {
		return r
	}
	r.Notes = append(append([]Note(nil), r.Notes...), Note{At: now, Text: text})
	return r
}
