/*
store.go - Read interface for ledger and portfolio data

PURPOSE:
  Defines the interface between the engine and whatever holds the
  property-management records. The engine only ever READS through it:
  aggregations and reconciliation never write ledger data.

KEY INTERFACES:
  DataSource: Transactions, properties, units, tenants, leases and
              maintenance requests, filterable by property and date range.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - store/memory/memory.go: In-memory for testing

EXAMPLE:
  txs, err := source.Transactions(ctx, generic.RecordFilter{Range: &r})

SEE ALSO:
  - ledger.go: Period-scoped view used by reconciliation
  - reports/store.go: Persistence for jobs and runs
  - reconciliation/store.go: Persistence for reconciliation records
*/
package generic

import "context"

// =============================================================================
// DATA SOURCE - Read-only access to property-management records
// =============================================================================

// RecordFilter narrows a query. A nil Range means all time; empty
// PropertyIDs means every property.
type RecordFilter struct {
	Range       *DateRange
	PropertyIDs []PropertyID
}

// MatchesProperty reports whether id passes the property filter.
func (f RecordFilter) MatchesProperty(id PropertyID) bool {
	if len(f.PropertyIDs) == 0 {
		return true
	}
	for _, p := range f.PropertyIDs {
		if p == id {
			return true
		}
	}
	return false
}

// WithRange returns a copy of f restricted to r.
func (f RecordFilter) WithRange(r DateRange) RecordFilter {
	f.Range = &r
	return f
}

// DataSource is the read side the engine depends on.
// Results are ordered by date (transactions), creation (maintenance) or id.
type DataSource interface {
	// Transactions returns ledger entries dated within the filter range.
	Transactions(ctx context.Context, filter RecordFilter) ([]Transaction, error)

	// Properties returns properties matching the property filter (range ignored).
	Properties(ctx context.Context, filter RecordFilter) ([]Property, error)

	// Units returns units of the matching properties (range ignored).
	Units(ctx context.Context, filter RecordFilter) ([]Unit, error)

	// Tenants returns tenants of the matching properties (range ignored).
	Tenants(ctx context.Context, filter RecordFilter) ([]Tenant, error)

	// Leases returns leases of the matching properties (range ignored).
	Leases(ctx context.Context, filter RecordFilter) ([]Lease, error)

	// MaintenanceRequests returns requests created within the filter range.
	MaintenanceRequests(ctx context.Context, filter RecordFilter) ([]MaintenanceRequest, error)
}

// Dataset is a bundle of source records, used to seed a store.
type Dataset struct {
	Transactions []Transaction
	Properties   []Property
	Units        []Unit
	Tenants      []Tenant
	Leases       []Lease
	Maintenance  []MaintenanceRequest
}

// Size is the total number of records in d.
func (d Dataset) Size() int {
	return len(d.Transactions) + len(d.Properties) + len(d.Units) +
		len(d.Tenants) + len(d.Leases) + len(d.Maintenance)
}

// Importer is a store that can be seeded and cleared. Reset removes every
// record, including jobs, runs and reconciliations.
type Importer interface {
	ImportDataset(ctx context.Context, d Dataset) error
	Reset(ctx context.Context) error
}
