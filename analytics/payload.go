/*
payload.go - Aggregation results, one concrete shape per report type

PURPOSE:
  A Payload is a tagged union: Type says which of the typed sections is
  populated. Comprehensive reports populate all four. Every rate is a
  finite decimal percentage rounded to 2 places.

SEE ALSO:
  - aggregator.go: Builds payloads
  - sections.go: Flattens payloads into tables for renderers
*/
package analytics

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
)

// Payload is the output of Aggregate.
type Payload struct {
	Type        generic.ReportType  `json:"type"`
	Range       generic.DateRange   `json:"range"`
	RecordCount int                 `json:"recordCount"`
	Financial   *FinancialPayload   `json:"financial,omitempty"`
	Portfolio   *PortfolioPayload   `json:"portfolio,omitempty"`
	Tenant      *TenantPayload      `json:"tenant,omitempty"`
	Maintenance *MaintenancePayload `json:"maintenance,omitempty"`
}

// Summary returns the headline figures of every populated section.
func (p Payload) Summary() map[string]string {
	s := map[string]string{}
	if f := p.Financial; f != nil {
		s["income"] = f.Income.StringFixed(2)
		s["expenses"] = f.Expenses.StringFixed(2)
		s["net"] = f.Net.StringFixed(2)
		s["collectionRate"] = f.CollectionRate.StringFixed(2)
	}
	if pf := p.Portfolio; pf != nil {
		s["totalUnits"] = strconv.Itoa(pf.TotalUnits)
		s["weightedOccupancy"] = pf.WeightedOccupancy.StringFixed(2)
		s["totalNetIncome"] = pf.TotalNetIncome.StringFixed(2)
	}
	if t := p.Tenant; t != nil {
		s["activeTenants"] = strconv.Itoa(t.ActiveTenants)
		s["renewalRate"] = t.RenewalRate.StringFixed(2)
	}
	if m := p.Maintenance; m != nil {
		s["maintenanceRequests"] = strconv.Itoa(m.Total)
		s["averageResolutionHours"] = m.AverageResolutionHours.StringFixed(2)
	}
	return s
}

// =============================================================================
// FINANCIAL
// =============================================================================

type FinancialPayload struct {
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`

	IncomeGrowth  decimal.Decimal `json:"incomeGrowth"`
	ExpenseGrowth decimal.Decimal `json:"expenseGrowth"`
	NetGrowth     decimal.Decimal `json:"netGrowth"`

	Due            decimal.Decimal `json:"due"`
	Collected      decimal.Decimal `json:"collected"`
	CollectionRate decimal.Decimal `json:"collectionRate"`

	OwnerShare      decimal.Decimal `json:"ownerShare"`
	ManagementShare decimal.Decimal `json:"managementShare"`

	MonthlyBreakdown []MonthlyBucket `json:"monthlyBreakdown"`
	ByCategory       []CategoryTotal `json:"byCategory"`
	Transactions     int             `json:"transactions"`
}

type MonthlyBucket struct {
	Month    string          `json:"month"`
	Income   decimal.Decimal `json:"income"`
	Expenses decimal.Decimal `json:"expenses"`
	Net      decimal.Decimal `json:"net"`
}

// CategoryTotal sums the signed amounts of one category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Count    int             `json:"count"`
}

// =============================================================================
// PORTFOLIO
// =============================================================================

type PropertyMetrics struct {
	PropertyID    generic.PropertyID `json:"propertyId"`
	Name          string             `json:"name"`
	Units         int                `json:"units"`
	Occupied      int                `json:"occupied"`
	OccupancyRate decimal.Decimal    `json:"occupancyRate"`
	AverageRent   decimal.Decimal    `json:"averageRent"`
	Revenue       decimal.Decimal    `json:"revenue"`
	Expenses      decimal.Decimal    `json:"expenses"`
	NetIncome     decimal.Decimal    `json:"netIncome"`
	ROI           decimal.Decimal    `json:"roi"`
}

type PortfolioPayload struct {
	Properties        []PropertyMetrics `json:"properties"`
	TotalProperties   int               `json:"totalProperties"`
	TotalUnits        int               `json:"totalUnits"`
	OccupiedUnits     int               `json:"occupiedUnits"`
	WeightedOccupancy decimal.Decimal   `json:"weightedOccupancy"`
	AverageRent       decimal.Decimal   `json:"averageRent"`
	TotalRevenue      decimal.Decimal   `json:"totalRevenue"`
	TotalExpenses     decimal.Decimal   `json:"totalExpenses"`
	TotalNetIncome    decimal.Decimal   `json:"totalNetIncome"`
	TopPerformers     []PropertyMetrics `json:"topPerformers"`
	BottomPerformers  []PropertyMetrics `json:"bottomPerformers"`
}

// =============================================================================
// TENANT
// =============================================================================

type TenantPayload struct {
	TotalTenants       int             `json:"totalTenants"`
	ActiveTenants      int             `json:"activeTenants"`
	NewTenants         int             `json:"newTenants"`
	MoveOuts           int             `json:"moveOuts"`
	ExpiringLeases     int             `json:"expiringLeases"`
	RenewedLeases      int             `json:"renewedLeases"`
	RenewalRate        decimal.Decimal `json:"renewalRate"`
	AverageLeaseMonths decimal.Decimal `json:"averageLeaseMonths"`
	OnTimePaymentRate  decimal.Decimal `json:"onTimePaymentRate"`
	ByStatus           map[string]int  `json:"byStatus"`
}

// =============================================================================
// MAINTENANCE
// =============================================================================

type MaintenancePayload struct {
	Total                  int             `json:"total"`
	Open                   int             `json:"open"`
	InProgress             int             `json:"inProgress"`
	Completed              int             `json:"completed"`
	Cancelled              int             `json:"cancelled"`
	CompletionRate         decimal.Decimal `json:"completionRate"`
	AverageResolutionHours decimal.Decimal `json:"averageResolutionHours"`
	TotalCost              decimal.Decimal `json:"totalCost"`
	AverageCost            decimal.Decimal `json:"averageCost"`
	ByCategory             map[string]int  `json:"byCategory"`
	ByPriority             map[string]int  `json:"byPriority"`
}
