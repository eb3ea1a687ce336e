/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:

	Implements every persistence interface the engine uses with one SQLite
	database. The same schema ports to PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:

	generic.DataSource:   Ledger and portfolio records (read side)
	generic.Importer:     Seeding and reset for demos and tests
	reports.Store:        Scheduled jobs and generated runs
	reconciliation.Store: Reconciliation records

COMPARE-AND-SWAP:

	Jobs and reconciliation records carry a version column. Updates are
	UPDATE ... WHERE id = ? AND version = ?; zero affected rows on an existing
	row means another writer got there first (generic.ErrConcurrentModification).

TIME & MONEY ENCODING:

	Instants are TEXT in a fixed-width UTC layout so string comparison orders
	them correctly. Decimals are TEXT to keep exact precision.

KEY TABLES:

	transactions:         Signed ledger entries
	properties, units:    Portfolio
	tenants, leases:      Occupancy
	maintenance_requests: Work orders
	scheduled_reports:    Recurring report jobs
	report_runs:          One row per run attempt, never deleted
	reconciliations:      Monthly ledger vs statement records

WAL MODE:

	SQLite is opened with WAL (Write-Ahead Logging): readers don't block the
	single writer.

USAGE:

	store, err := sqlite.New("./data/reports.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

SEE ALSO:
  - generic/store.go: DataSource definition
  - reports/store.go: Job and run persistence contract
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// timeLayout is RFC3339 with fixed nanoseconds, always written in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Wrap uses an already open database whose schema is managed elsewhere.
func Wrap(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		unit_id TEXT,
		tenant_id TEXT,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		reference TEXT,
		status TEXT NOT NULL,
		description TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_property_date ON transactions(property_id, date);

	CREATE TABLE IF NOT EXISTS properties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT,
		purchase_price TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		name TEXT,
		rent TEXT NOT NULL,
		occupied INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_units_property ON units(property_id);

	CREATE TABLE IF NOT EXISTS tenants (
		id TEXT PRIMARY KEY,
		name TEXT,
		property_id TEXT NOT NULL,
		status TEXT NOT NULL,
		move_in TEXT NOT NULL,
		move_out TEXT
	);

	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		property_id TEXT NOT NULL,
		unit_id TEXT,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		rent TEXT NOT NULL,
		status TEXT NOT NULL,
		renewed_from TEXT
	);

	CREATE TABLE IF NOT EXISTS maintenance_requests (
		id TEXT PRIMARY KEY,
		property_id TEXT NOT NULL,
		unit_id TEXT,
		category TEXT,
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		cost TEXT NOT NULL,
		created_at TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_maintenance_created ON maintenance_requests(created_at);

	CREATE TABLE IF NOT EXISTS scheduled_reports (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT,
		report_type TEXT NOT NULL,
		schedule_json TEXT NOT NULL,
		settings_json TEXT NOT NULL,
		recipients_json TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		last_run TEXT,
		next_run TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	-- Hot path: the scheduler tick asks for active jobs due by now.
	CREATE INDEX IF NOT EXISTS idx_scheduled_reports_due ON scheduled_reports(is_active, next_run);

	CREATE TABLE IF NOT EXISTS report_runs (
		id TEXT PRIMARY KEY,
		scheduled_report_id TEXT,
		report_type TEXT NOT NULL,
		range_start TEXT NOT NULL,
		range_end TEXT NOT NULL,
		status TEXT NOT NULL,
		data_json TEXT,
		artifacts_json TEXT NOT NULL,
		recipients_json TEXT NOT NULL,
		error TEXT,
		record_count INTEGER NOT NULL DEFAULT 0,
		byte_size INTEGER NOT NULL DEFAULT 0,
		processing_time_ms INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_report_runs_job ON report_runs(scheduled_report_id, started_at);

	CREATE TABLE IF NOT EXISTS reconciliations (
		id TEXT PRIMARY KEY,
		period TEXT NOT NULL,
		ledger_total TEXT NOT NULL,
		statement_total TEXT NOT NULL,
		difference TEXT NOT NULL,
		status TEXT NOT NULL,
		reconciled_ids_json TEXT NOT NULL,
		unreconciled_ids_json TEXT NOT NULL,
		discrepancies_json TEXT NOT NULL,
		notes_json TEXT NOT NULL,
		statement_applied INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		completed_at TEXT,
		version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reconciliations_period ON reconciliations(period, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reconciliations_open_period ON reconciliations(period) WHERE status != 'reconciled';
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Reset clears all data (for testing/demos).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"transactions", "properties", "units", "tenants", "leases",
		"maintenance_requests", "scheduled_reports", "report_runs", "reconciliations",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid stored decimal %q: %w", s, err)
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

// rowsAffected reports whether exactly one row changed.
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
