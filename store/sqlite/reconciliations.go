package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reconciliation"
)

// =============================================================================
// RECONCILIATIONS (reconciliation.Store)
// =============================================================================

const reconciliationColumns = `id, period, ledger_total, statement_total, difference, status,
	reconciled_ids_json, unreconciled_ids_json, discrepancies_json, notes_json,
	statement_applied, created_at, completed_at, version`

// reconciliationArgs returns every column except version, in column order.
func reconciliationArgs(r reconciliation.Record) ([]any, error) {
	reconciled, err := encodeJSON(nonNilIDs(r.ReconciledTransactionIDs))
	if err != nil {
		return nil, fmt.Errorf("encode reconciled ids: %w", err)
	}
	unreconciled, err := encodeJSON(nonNilIDs(r.UnreconciledTransactionIDs))
	if err != nil {
		return nil, fmt.Errorf("encode unreconciled ids: %w", err)
	}
	discrepancies := r.Discrepancies
	if discrepancies == nil {
		discrepancies = []reconciliation.Discrepancy{}
	}
	discrepanciesJSON, err := encodeJSON(discrepancies)
	if err != nil {
		return nil, fmt.Errorf("encode discrepancies: %w", err)
	}
	notes := r.Notes
	if notes == nil {
		notes = []reconciliation.Note{}
	}
	notesJSON, err := encodeJSON(notes)
	if err != nil {
		return nil, fmt.Errorf("encode notes: %w", err)
	}

	return []any{
		r.ID, r.Period.String(), r.LedgerTotal.String(), r.StatementTotal.String(), r.Difference.String(),
		r.Status, reconciled, unreconciled, discrepanciesJSON, notesJSON,
		boolInt(r.StatementApplied), formatTime(r.CreatedAt), formatTimePtr(r.CompletedAt),
	}, nil
}

func nonNilIDs(ids []generic.TransactionID) []generic.TransactionID {
	if ids == nil {
		return []generic.TransactionID{}
	}
	return ids
}

// CreateReconciliationIfNoneOpen checks for an open record and inserts in one
// transaction. The partial unique index on period backs the check up for
// writers outside this process.
func (s *Store) CreateReconciliationIfNoneOpen(ctx context.Context, r reconciliation.Record) error {
	args, err := reconciliationArgs(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var openID, openStatus string
	err = tx.QueryRowContext(ctx, `SELECT id, status FROM reconciliations
		WHERE period = ? AND status != ? LIMIT 1`,
		r.Period.String(), reconciliation.StatusReconciled).Scan(&openID, &openStatus)
	switch {
	case err == nil:
		return fmt.Errorf("%w: reconciliation %s for %s is %s", generic.ErrConflict, openID, r.Period, openStatus)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("failed to query open reconciliations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO reconciliations (`+reconciliationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, append(args, r.Version)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: reconciliation %s for %s already exists", generic.ErrConflict, r.ID, r.Period)
		}
		return fmt.Errorf("failed to create reconciliation: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetReconciliation(ctx context.Context, id reconciliation.RecordID) (reconciliation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+reconciliationColumns+` FROM reconciliations WHERE id = ?`, id)
	if err != nil {
		return reconciliation.Record{}, fmt.Errorf("failed to query reconciliation: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return reconciliation.Record{}, err
		}
		return reconciliation.Record{}, generic.NewNotFound("reconciliation", string(id))
	}
	return scanReconciliation(rows)
}

func (s *Store) ListReconciliations(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var clauses []string
	var args []any
	if f.Period != nil {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period.String())
	}
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + reconciliationColumns + ` FROM reconciliations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliations: %w", err)
	}
	defer rows.Close()

	var out []reconciliation.Record
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateReconciliationIfVersion(ctx context.Context, r reconciliation.Record, expected int) error {
	args, err := reconciliationArgs(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE reconciliations SET
			period = ?, ledger_total = ?, statement_total = ?, difference = ?, status = ?,
			reconciled_ids_json = ?, unreconciled_ids_json = ?, discrepancies_json = ?, notes_json = ?,
			statement_applied = ?, created_at = ?, completed_at = ?, version = ?
		WHERE id = ? AND version = ?`,
		append(append(args[1:], expected+1), args[0], expected)...)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation: %w", err)
	}
	ok, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.casFailure(ctx, "reconciliations", "reconciliation", string(r.ID))
}

func scanReconciliation(rows *sql.Rows) (reconciliation.Record, error) {
	var (
		r                                     reconciliation.Record
		period, ledger, statement, difference string
		reconciled, unreconciled              string
		discrepancies, notes, createdAt       string
		statementApplied                      int
		completedAt                           sql.NullString
	)
	if err := rows.Scan(&r.ID, &period, &ledger, &statement, &difference, &r.Status,
		&reconciled, &unreconciled, &discrepancies, &notes,
		&statementApplied, &createdAt, &completedAt, &r.Version); err != nil {
		return r, fmt.Errorf("failed to scan reconciliation: %w", err)
	}

	var err error
	if r.Period, err = generic.ParsePeriod(period); err != nil {
		return r, err
	}
	if r.LedgerTotal, err = parseDecimal(ledger); err != nil {
		return r, err
	}
	if r.StatementTotal, err = parseDecimal(statement); err != nil {
		return r, err
	}
	if r.Difference, err = parseDecimal(difference); err != nil {
		return r, err
	}
	if err = decodeJSON(reconciled, &r.ReconciledTransactionIDs); err != nil {
		return r, fmt.Errorf("decode reconciled ids of %s: %w", r.ID, err)
	}
	if err = decodeJSON(unreconciled, &r.UnreconciledTransactionIDs); err != nil {
		return r, fmt.Errorf("decode unreconciled ids of %s: %w", r.ID, err)
	}
	if err = decodeJSON(discrepancies, &r.Discrepancies); err != nil {
		return r, fmt.Errorf("decode discrepancies of %s: %w", r.ID, err)
	}
	if err = decodeJSON(notes, &r.Notes); err != nil {
		return r, fmt.Errorf("decode notes of %s: %w", r.ID, err)
	}
	if len(r.Notes) == 0 {
		r.Notes = nil
	}
	r.StatementApplied = statementApplied != 0
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return r, err
	}
	return r, nil
}
