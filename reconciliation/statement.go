package reconciliation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
)

// StatementLine is one entry on an external bank statement. Amounts use the
// ledger's sign convention: deposits positive, withdrawals negative.
type StatementLine struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description,omitempty"`
}

// Statement is what gets uploaded for a period. Lines are optional; without
// them only the total is compared.
type Statement struct {
	Total decimal.Decimal `json:"total"`
	Lines []StatementLine `json:"lines,omitempty"`
}

// MatchResult is the outcome of pairing ledger entries with statement lines.
type MatchResult struct {
	// Matched are ledger entries paired with a line of the same amount.
	Matched       []generic.TransactionID
	Discrepancies []Discrepancy
}

// StatementMatcher pairs ledger entries with statement lines.
type StatementMatcher interface {
	Match(entries []generic.Transaction, lines []StatementLine) MatchResult
}

// =============================================================================
// REFERENCE / AMOUNT MATCHER
// =============================================================================

// DefaultDateWindow is how far apart ledger and statement dates may be for
// an amount-only match.
const DefaultDateWindow = 3 * 24 * time.Hour

// ReferenceAmountMatcher pairs by reference first (case-insensitive,
// trimmed), then by equal amount within DateWindow. Lines are claimed at
// most once, first unclaimed line wins.
type ReferenceAmountMatcher struct {
	DateWindow time.Duration
}

func NewReferenceAmountMatcher() *ReferenceAmountMatcher {
	return &ReferenceAmountMatcher{DateWindow: DefaultDateWindow}
}

func (m *ReferenceAmountMatcher) Match(entries []generic.Transaction, lines []StatementLine) MatchResult {
	claimed := make([]bool, len(lines))
	byRef := map[string][]int{}
	for i, l := range lines {
		if ref := normalizeRef(l.Reference); ref != "" {
			byRef[ref] = append(byRef[ref], i)
		}
	}

	var res MatchResult
	for _, tx := range entries {
		idx := -1
		if ref := normalizeRef(tx.Reference); ref != "" {
			for _, i := range byRef[ref] {
				if !claimed[i] {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			for i, l := range lines {
				if !claimed[i] && l.Amount.Equal(tx.Amount) && m.withinWindow(tx.Date, l.Date) {
					idx = i
					break
				}
			}
		}

		if idx < 0 {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				TransactionID:   tx.ID,
				Reference:       tx.Reference,
				LedgerAmount:    tx.Amount,
				StatementAmount: decimal.Zero,
				Difference:      tx.Amount,
				Reason:          ReasonMissingFromStatement,
			})
			continue
		}

		claimed[idx] = true
		line := lines[idx]
		if line.Amount.Equal(tx.Amount) {
			res.Matched = append(res.Matched, tx.ID)
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			TransactionID:   tx.ID,
			Reference:       tx.Reference,
			LedgerAmount:    tx.Amount,
			StatementAmount: line.Amount,
			Difference:      tx.Amount.Sub(line.Amount),
			Reason:          ReasonAmountMismatch,
		})
	}

	for i, l := range lines {
		if claimed[i] {
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Reference:       l.Reference,
			LedgerAmount:    decimal.Zero,
			StatementAmount: l.Amount,
			Difference:      l.Amount.Neg(),
			Reason:          ReasonMissingFromLedger,
		})
	}
	return res
}

func (m *ReferenceAmountMatcher) withinWindow(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= m.DateWindow
}

func normalizeRef(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
