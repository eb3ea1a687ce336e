/*
ledger.go - Period-scoped view over the transaction ledger

PURPOSE:
  Reconciliation checks one calendar month of the ledger against a bank
  statement. The Ledger gathers that month's entries and their total so the
  matcher works on a fixed snapshot rather than live queries.

CRITICAL INVARIANTS:
  1. READ-ONLY: the engine never writes ledger entries
  2. SNAPSHOT: a LedgerSnapshot is taken once per reconciliation start;
     later ledger edits do not change an in-flight record

SEE ALSO:
  - store.go: DataSource interface
  - reconciliation/matcher.go: Consumes LedgerSnapshot
*/
package generic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// LedgerSnapshot is every transaction dated within one period.
type LedgerSnapshot struct {
	Period       Period
	Transactions []Transaction
}

// Total is the signed sum of the snapshot's amounts.
func (s LedgerSnapshot) Total() decimal.Decimal {
	total := decimal.Zero
	for _, tx := range s.Transactions {
		total = total.Add(tx.Amount)
	}
	return total
}

// IDs lists the snapshot's transaction ids in ledger order.
func (s LedgerSnapshot) IDs() []TransactionID {
	ids := make([]TransactionID, len(s.Transactions))
	for i, tx := range s.Transactions {
		ids[i] = tx.ID
	}
	return ids
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Source DataSource
}

func NewLedger(source DataSource) *Ledger {
	return &Ledger{Source: source}
}

// Snapshot loads all transactions dated within p.
func (l *Ledger) Snapshot(ctx context.Context, p Period) (LedgerSnapshot, error) {
	txs, err := l.Source.Transactions(ctx, RecordFilter{}.WithRange(p.Range()))
	if err != nil {
		return LedgerSnapshot{}, fmt.Errorf("load ledger for %s: %w", p, err)
	}
	// The partition must hold only entries dated in p.
	inPeriod := txs[:0]
	for _, tx := range txs {
		if p.Contains(tx.Date) {
			inPeriod = append(inPeriod, tx)
		}
	}
	return LedgerSnapshot{Period: p, Transactions: inPeriod}, nil
}
