/*
Package generic provides the core types shared by the report and reconciliation engine.

PURPOSE:
  This package holds the domain-agnostic building blocks: money arithmetic,
  identifiers, ledger records read from the data source, date ranges and
  calendar-month periods. The schedule, analytics, reports and reconciliation
  packages all speak in these types.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal helpers (never float64 for currency)
  - Transaction: A signed ledger entry (income > 0, expense < 0)
  - Property / Unit / Lease / Tenant / MaintenanceRequest: read-only records
  - ReportType: Which aggregation a report asks for

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point errors
  2. Type Safety: Strong typing for IDs prevents mixing property/tenant IDs
  3. Explicit Instants: every timestamp is a UTC time.Time at this boundary

USAGE:
  tx := generic.Transaction{
      ID:         "tx-1",
      PropertyID: "prop-1",
      Category:   generic.CategoryRent,
      Amount:     generic.MustParseDecimal("1450.00"),
      Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
      Status:     generic.TxCompleted,
  }

SEE ALSO:
  - period.go: DateRange, Period and range selectors
  - store.go: DataSource interface
  - errors.go: Error taxonomy
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal helpers
// =============================================================================

// MustParseDecimal parses s or returns zero. Use for literals and fixtures.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Round2 rounds to cents.
func Round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Sum adds all values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type PropertyID string
type UnitID string
type TenantID string
type LeaseID string
type MaintenanceID string

// =============================================================================
// REPORT TYPE
// =============================================================================

// ReportType selects which aggregation a report runs.
type ReportType string

const (
	ReportPortfolio     ReportType = "portfolio"
	ReportFinancial     ReportType = "financial"
	ReportTenant        ReportType = "tenant"
	ReportMaintenance   ReportType = "maintenance"
	ReportComprehensive ReportType = "comprehensive"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportPortfolio, ReportFinancial, ReportTenant, ReportMaintenance, ReportComprehensive:
		return true
	}
	return false
}

// =============================================================================
// TRANSACTION - Signed ledger entry
// =============================================================================

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxPending   TransactionStatus = "pending"
	TxFailed    TransactionStatus = "failed"
)

// Common transaction categories. Categories are free-form; these are the ones
// the aggregations treat specially.
const (
	CategoryRent        = "rent"
	CategoryDeposit     = "deposit"
	CategoryMaintenance = "maintenance"
	CategoryUtilities   = "utilities"
	CategoryInsurance   = "insurance"
	CategoryTax         = "tax"
	CategoryManagement  = "management_fee"
)

// Transaction is one ledger entry. Amount is signed: income is positive,
// expenses are negative.
type Transaction struct {
	ID          TransactionID
	PropertyID  PropertyID
	UnitID      UnitID
	TenantID    TenantID
	Category    string
	Amount      decimal.Decimal
	Date        time.Time
	Reference   string
	Status      TransactionStatus
	Description string
}

func (t Transaction) IsIncome() bool  { return t.Amount.IsPositive() }
func (t Transaction) IsExpense() bool { return t.Amount.IsNegative() }

// =============================================================================
// PORTFOLIO RECORDS
// =============================================================================

type Property struct {
	ID            PropertyID
	Name          string
	Address       string
	PurchasePrice decimal.Decimal
}

type Unit struct {
	ID         UnitID
	PropertyID PropertyID
	Name       string
	Rent       decimal.Decimal
	Occupied   bool
}

// =============================================================================
// TENANT RECORDS
// =============================================================================

type TenantStatus string

const (
	TenantActive      TenantStatus = "active"
	TenantPast        TenantStatus = "past"
	TenantProspective TenantStatus = "prospective"
)

type Tenant struct {
	ID         TenantID
	Name       string
	PropertyID PropertyID
	Status     TenantStatus
	MoveIn     time.Time
	MoveOut    *time.Time
}

type LeaseStatus string

const (
	LeaseActive     LeaseStatus = "active"
	LeaseExpired    LeaseStatus = "expired"
	LeaseTerminated LeaseStatus = "terminated"
)

// Lease is a rental agreement. RenewedFrom names the lease this one renews.
type Lease struct {
	ID          LeaseID
	TenantID    TenantID
	PropertyID  PropertyID
	UnitID      UnitID
	Start       time.Time
	End         time.Time
	Rent        decimal.Decimal
	Status      LeaseStatus
	RenewedFrom LeaseID
}

// =============================================================================
// MAINTENANCE RECORDS
// =============================================================================

type MaintenanceStatus string

const (
	MaintenanceOpen       MaintenanceStatus = "open"
	MaintenanceInProgress MaintenanceStatus = "in_progress"
	MaintenanceCompleted  MaintenanceStatus = "completed"
	MaintenanceCancelled  MaintenanceStatus = "cancelled"
)

type MaintenancePriority string

const (
	PriorityLow    MaintenancePriority = "low"
	PriorityMedium MaintenancePriority = "medium"
	PriorityHigh   MaintenancePriority = "high"
	PriorityUrgent MaintenancePriority = "urgent"
)

type MaintenanceRequest struct {
	ID          MaintenanceID
	PropertyID  PropertyID
	UnitID      UnitID
	Category    string
	Priority    MaintenancePriority
	Status      MaintenanceStatus
	Cost        decimal.Decimal
	CreatedAt   time.Time
	CompletedAt *time.Time
}
