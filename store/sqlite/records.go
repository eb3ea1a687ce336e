package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/report-engine/generic"
)

// =============================================================================
// SEEDING (generic.Importer)
// =============================================================================

// ImportDataset upserts every record in d in one transaction.
func (s *Store) ImportDataset(ctx context.Context, d generic.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range d.Transactions {
		if err := saveTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	for _, p := range d.Properties {
		if err := saveProperty(ctx, sqlTx, p); err != nil {
			return err
		}
	}
	for _, u := range d.Units {
		if err := saveUnit(ctx, sqlTx, u); err != nil {
			return err
		}
	}
	for _, t := range d.Tenants {
		if err := saveTenant(ctx, sqlTx, t); err != nil {
			return err
		}
	}
	for _, l := range d.Leases {
		if err := saveLease(ctx, sqlTx, l); err != nil {
			return err
		}
	}
	for _, m := range d.Maintenance {
		if err := saveMaintenance(ctx, sqlTx, m); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func saveTransaction(ctx context.Context, db execer, tx generic.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions (id, property_id, unit_id, tenant_id, category, amount, date, reference, status, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			unit_id = excluded.unit_id,
			tenant_id = excluded.tenant_id,
			category = excluded.category,
			amount = excluded.amount,
			date = excluded.date,
			reference = excluded.reference,
			status = excluded.status,
			description = excluded.description
	`,
		tx.ID, tx.PropertyID, nullString(string(tx.UnitID)), nullString(string(tx.TenantID)),
		tx.Category, tx.Amount.String(), formatTime(tx.Date),
		nullString(tx.Reference), tx.Status, nullString(tx.Description),
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func saveProperty(ctx context.Context, db execer, p generic.Property) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO properties (id, name, address, purchase_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			purchase_price = excluded.purchase_price
	`, p.ID, p.Name, nullString(p.Address), p.PurchasePrice.String())
	if err != nil {
		return fmt.Errorf("failed to save property %s: %w", p.ID, err)
	}
	return nil
}

func saveUnit(ctx context.Context, db execer, u generic.Unit) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO units (id, property_id, name, rent, occupied)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			name = excluded.name,
			rent = excluded.rent,
			occupied = excluded.occupied
	`, u.ID, u.PropertyID, nullString(u.Name), u.Rent.String(), boolInt(u.Occupied))
	if err != nil {
		return fmt.Errorf("failed to save unit %s: %w", u.ID, err)
	}
	return nil
}

func saveTenant(ctx context.Context, db execer, t generic.Tenant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, property_id, status, move_in, move_out)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			property_id = excluded.property_id,
			status = excluded.status,
			move_in = excluded.move_in,
			move_out = excluded.move_out
	`, t.ID, nullString(t.Name), t.PropertyID, t.Status, formatTime(t.MoveIn), formatTimePtr(t.MoveOut))
	if err != nil {
		return fmt.Errorf("failed to save tenant %s: %w", t.ID, err)
	}
	return nil
}

func saveLease(ctx context.Context, db execer, l generic.Lease) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO leases (id, tenant_id, property_id, unit_id, start_date, end_date, rent, status, renewed_from)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			property_id = excluded.property_id,
			unit_id = excluded.unit_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			rent = excluded.rent,
			status = excluded.status,
			renewed_from = excluded.renewed_from
	`,
		l.ID, l.TenantID, l.PropertyID, nullString(string(l.UnitID)),
		formatTime(l.Start), formatTime(l.End), l.Rent.String(), l.Status,
		nullString(string(l.RenewedFrom)),
	)
	if err != nil {
		return fmt.Errorf("failed to save lease %s: %w", l.ID, err)
	}
	return nil
}

func saveMaintenance(ctx context.Context, db execer, m generic.MaintenanceRequest) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO maintenance_requests (id, property_id, unit_id, category, priority, status, cost, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			property_id = excluded.property_id,
			unit_id = excluded.unit_id,
			category = excluded.category,
			priority = excluded.priority,
			status = excluded.status,
			cost = excluded.cost,
			created_at = excluded.created_at,
			completed_at = excluded.completed_at
	`,
		m.ID, m.PropertyID, nullString(string(m.UnitID)), nullString(m.Category),
		m.Priority, m.Status, m.Cost.String(), formatTime(m.CreatedAt), formatTimePtr(m.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save maintenance request %s: %w", m.ID, err)
	}
	return nil
}

// =============================================================================
// DATA SOURCE (generic.DataSource)
// =============================================================================

// where builds the WHERE clause for a record filter. dateCol is empty for
// tables the range does not apply to.
func where(f generic.RecordFilter, propertyCol, dateCol string) (string, []any) {
	var clauses []string
	var args []any
	if len(f.PropertyIDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", propertyCol, placeholders(len(f.PropertyIDs))))
		for _, id := range f.PropertyIDs {
			args = append(args, string(id))
		}
	}
	if dateCol != "" && f.Range != nil {
		clauses = append(clauses, fmt.Sprintf("%s >= ? AND %s <= ?", dateCol, dateCol))
		args = append(args, formatTime(f.Range.Start), formatTime(f.Range.End))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	out := " WHERE " + clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out, args
}

func (s *Store) Transactions(ctx context.Context, f generic.RecordFilter) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "property_id", "date")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, unit_id, tenant_id, category, amount, date, reference, status, description
		FROM transactions`+cond+`
		ORDER BY date ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(rows *sql.Rows) (generic.Transaction, error) {
	var (
		tx                                       generic.Transaction
		unitID, tenantID, reference, description sql.NullString
		amount, date                             string
	)
	if err := rows.Scan(&tx.ID, &tx.PropertyID, &unitID, &tenantID, &tx.Category,
		&amount, &date, &reference, &tx.Status, &description); err != nil {
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}

	var err error
	if tx.Amount, err = parseDecimal(amount); err != nil {
		return tx, err
	}
	if tx.Date, err = parseTime(date); err != nil {
		return tx, err
	}
	tx.UnitID = generic.UnitID(unitID.String)
	tx.TenantID = generic.TenantID(tenantID.String)
	tx.Reference = reference.String
	tx.Description = description.String
	return tx, nil
}

func (s *Store) Properties(ctx context.Context, f generic.RecordFilter) ([]generic.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "id", "")
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, address, purchase_price FROM properties`+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}
	defer rows.Close()

	var out []generic.Property
	for rows.Next() {
		var (
			p       generic.Property
			address sql.NullString
			price   string
		)
		if err := rows.Scan(&p.ID, &p.Name, &address, &price); err != nil {
			return nil, fmt.Errorf("failed to scan property: %w", err)
		}
		p.Address = address.String
		if p.PurchasePrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Units(ctx context.Context, f generic.RecordFilter) ([]generic.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "property_id", "")
	rows, err := s.db.QueryContext(ctx, `SELECT id, property_id, name, rent, occupied FROM units`+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var out []generic.Unit
	for rows.Next() {
		var (
			u        generic.Unit
			name     sql.NullString
			rent     string
			occupied int
		)
		if err := rows.Scan(&u.ID, &u.PropertyID, &name, &rent, &occupied); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.Name = name.String
		u.Occupied = occupied != 0
		if u.Rent, err = parseDecimal(rent); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) Tenants(ctx context.Context, f generic.RecordFilter) ([]generic.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "property_id", "")
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, property_id, status, move_in, move_out FROM tenants`+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var out []generic.Tenant
	for rows.Next() {
		var (
			t             generic.Tenant
			name, moveOut sql.NullString
			moveIn        string
		)
		if err := rows.Scan(&t.ID, &name, &t.PropertyID, &t.Status, &moveIn, &moveOut); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		t.Name = name.String
		if t.MoveIn, err = parseTime(moveIn); err != nil {
			return nil, err
		}
		if t.MoveOut, err = parseTimePtr(moveOut); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Leases(ctx context.Context, f generic.RecordFilter) ([]generic.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "property_id", "")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, property_id, unit_id, start_date, end_date, rent, status, renewed_from
		FROM leases`+cond+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query leases: %w", err)
	}
	defer rows.Close()

	var out []generic.Lease
	for rows.Next() {
		var (
			l                   generic.Lease
			unitID, renewedFrom sql.NullString
			start, end, rent    string
		)
		if err := rows.Scan(&l.ID, &l.TenantID, &l.PropertyID, &unitID, &start, &end, &rent, &l.Status, &renewedFrom); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		l.UnitID = generic.UnitID(unitID.String)
		l.RenewedFrom = generic.LeaseID(renewedFrom.String)
		if l.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if l.End, err = parseTime(end); err != nil {
			return nil, err
		}
		if l.Rent, err = parseDecimal(rent); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) MaintenanceRequests(ctx context.Context, f generic.RecordFilter) ([]generic.MaintenanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cond, args := where(f, "property_id", "created_at")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, property_id, unit_id, category, priority, status, cost, created_at, completed_at
		FROM maintenance_requests`+cond+`
		ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query maintenance requests: %w", err)
	}
	defer rows.Close()

	var out []generic.MaintenanceRequest
	for rows.Next() {
		var (
			m                             generic.MaintenanceRequest
			unitID, category, completedAt sql.NullString
			cost, createdAt               string
		)
		if err := rows.Scan(&m.ID, &m.PropertyID, &unitID, &category, &m.Priority, &m.Status, &cost, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan maintenance request: %w", err)
		}
		m.UnitID = generic.UnitID(unitID.String)
		m.Category = category.String
		if m.Cost, err = parseDecimal(cost); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if m.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
