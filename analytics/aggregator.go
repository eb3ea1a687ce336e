/*
aggregator.go - Derived metrics over ledger and portfolio records

PURPOSE:
  Computes the financial, portfolio, tenant and maintenance metrics a report
  presents, for one date range. The aggregator only reads from the data
  source and holds no state between calls, so re-running it over an
  unchanged snapshot yields an identical Payload.

CRITICAL INVARIANTS:
  1. FINITE: every ratio goes through Percent/Growth/SafeRatio and is 0 when
     its denominator is 0
  2. ORDERED: slices are sorted (months ascending, properties by id,
     categories by name) so output never depends on map iteration
  3. READ-ONLY: the data source is never written

SEE ALSO:
  - payload.go: Result shapes
  - ratios.go: Division-safe helpers
  - reports/pipeline.go: Calls Aggregate for every run
*/
package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/report-engine/generic"
	"golang.org/x/sync/errgroup"
)

// Owner/management split of net income. Business constants, not per-tenant policy.
var (
	OwnerShare      = decimal.RequireFromString("0.85")
	ManagementShare = decimal.RequireFromString("0.15")
)

// Aggregator computes payloads from a DataSource.
type Aggregator struct {
	source generic.DataSource
}

func NewAggregator(source generic.DataSource) *Aggregator {
	return &Aggregator{source: source}
}

// Aggregate builds the payload for reportType over r. filter.Range is
// replaced by r; filter.PropertyIDs narrows every query.
func (a *Aggregator) Aggregate(ctx context.Context, reportType generic.ReportType, r generic.DateRange, filter generic.RecordFilter) (Payload, error) {
	if !reportType.Valid() {
		return Payload{}, generic.NewConfigError("reportType", fmt.Sprintf("unknown report type %q", reportType))
	}
	if r.End.Before(r.Start) {
		return Payload{}, generic.ErrInvalidPeriod
	}

	data, err := a.load(ctx, needsFor(reportType), r, filter)
	if err != nil {
		return Payload{}, err
	}

	p := Payload{Type: reportType, Range: r, RecordCount: data.count()}
	switch reportType {
	case generic.ReportFinancial:
		p.Financial = financial(data, r)
	case generic.ReportPortfolio:
		p.Portfolio = portfolio(data)
	case generic.ReportTenant:
		p.Tenant = tenant(data, r)
	case generic.ReportMaintenance:
		p.Maintenance = maintenance(data)
	case generic.ReportComprehensive:
		p.Financial = financial(data, r)
		p.Portfolio = portfolio(data)
		p.Tenant = tenant(data, r)
		p.Maintenance = maintenance(data)
	}
	return p, nil
}

// =============================================================================
// LOADING
// =============================================================================

type needs struct {
	transactions, previous, portfolio, tenants, maintenance bool
}

func needsFor(t generic.ReportType) needs {
	switch t {
	case generic.ReportFinancial:
		return needs{transactions: true, previous: true}
	case generic.ReportPortfolio:
		return needs{transactions: true, portfolio: true}
	case generic.ReportTenant:
		return needs{transactions: true, tenants: true}
	case generic.ReportMaintenance:
		return needs{maintenance: true}
	}
	return needs{transactions: true, previous: true, portfolio: true, tenants: true, maintenance: true}
}

// dataset is one consistent read of everything an aggregation needs.
type dataset struct {
	transactions []generic.Transaction
	previous     []generic.Transaction
	properties   []generic.Property
	units        []generic.Unit
	tenants      []generic.Tenant
	leases       []generic.Lease
	maintenance  []generic.MaintenanceRequest
}

// count is the number of source records the payload is built from.
// The preceding-period transactions only feed growth and are not counted.
func (d *dataset) count() int {
	return len(d.transactions) + len(d.properties) + len(d.units) +
		len(d.tenants) + len(d.leases) + len(d.maintenance)
}

func (a *Aggregator) load(ctx context.Context, n needs, r generic.DateRange, filter generic.RecordFilter) (*dataset, error) {
	d := &dataset{}
	current := filter.WithRange(r)
	g, ctx := errgroup.WithContext(ctx)

	if n.transactions {
		g.Go(func() (err error) {
			d.transactions, err = a.source.Transactions(ctx, current)
			return wrapLoad("transactions", err)
		})
	}
	if n.previous {
		g.Go(func() (err error) {
			d.previous, err = a.source.Transactions(ctx, filter.WithRange(r.Previous()))
			return wrapLoad("previous-period transactions", err)
		})
	}
	if n.portfolio {
		g.Go(func() (err error) {
			d.properties, err = a.source.Properties(ctx, current)
			return wrapLoad("properties", err)
		})
		g.Go(func() (err error) {
			d.units, err = a.source.Units(ctx, current)
			return wrapLoad("units", err)
		})
	}
	if n.tenants {
		g.Go(func() (err error) {
			d.tenants, err = a.source.Tenants(ctx, current)
			return wrapLoad("tenants", err)
		})
		g.Go(func() (err error) {
			d.leases, err = a.source.Leases(ctx, current)
			return wrapLoad("leases", err)
		})
	}
	if n.maintenance {
		g.Go(func() (err error) {
			d.maintenance, err = a.source.MaintenanceRequests(ctx, current)
			return wrapLoad("maintenance requests", err)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return d, nil
}

func wrapLoad(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// =============================================================================
// FINANCIAL
// =============================================================================

type totals struct {
	income, expenses decimal.Decimal
}

func (t totals) net() decimal.Decimal { return t.income.Sub(t.expenses) }

// counted reports whether a transaction contributes to money totals.
// Failed transactions never moved money.
func counted(tx generic.Transaction) bool { return tx.Status != generic.TxFailed }

func sumTotals(txs []generic.Transaction) totals {
	t := totals{income: decimal.Zero, expenses: decimal.Zero}
	for _, tx := range txs {
		if !counted(tx) {
			continue
		}
		if tx.IsIncome() {
			t.income = t.income.Add(tx.Amount)
		} else if tx.IsExpense() {
			t.expenses = t.expenses.Add(tx.Amount.Abs())
		}
	}
	return t
}

func financial(d *dataset, r generic.DateRange) *FinancialPayload {
	cur := sumTotals(d.transactions)
	prev := sumTotals(d.previous)

	due, collected := decimal.Zero, decimal.Zero
	months := map[string]*MonthlyBucket{}
	for _, key := range r.Months() {
		months[key] = &MonthlyBucket{Month: key, Income: decimal.Zero, Expenses: decimal.Zero, Net: decimal.Zero}
	}
	categories := map[string]*CategoryTotal{}

	for _, tx := range d.transactions {
		if tx.Category == generic.CategoryRent && tx.IsIncome() {
			due = due.Add(tx.Amount)
			if tx.Status == generic.TxCompleted {
				collected = collected.Add(tx.Amount)
			}
		}
		if !counted(tx) {
			continue
		}

		key := generic.MonthKey(tx.Date)
		b, ok := months[key]
		if !ok {
			b = &MonthlyBucket{Month: key, Income: decimal.Zero, Expenses: decimal.Zero, Net: decimal.Zero}
			months[key] = b
		}
		if tx.IsIncome() {
			b.Income = b.Income.Add(tx.Amount)
		} else {
			b.Expenses = b.Expenses.Add(tx.Amount.Abs())
		}
		b.Net = b.Income.Sub(b.Expenses)

		c, ok := categories[tx.Category]
		if !ok {
			c = &CategoryTotal{Category: tx.Category, Amount: decimal.Zero}
			categories[tx.Category] = c
		}
		c.Amount = c.Amount.Add(tx.Amount)
		c.Count++
	}

	breakdown := make([]MonthlyBucket, 0, len(months))
	for _, b := range months {
		breakdown = append(breakdown, *b)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].Month < breakdown[j].Month })

	byCategory := make([]CategoryTotal, 0, len(categories))
	for _, c := range categories {
		byCategory = append(byCategory, *c)
	}
	sort.Slice(byCategory, func(i, j int) bool { return byCategory[i].Category < byCategory[j].Category })

	net := cur.net()
	return &FinancialPayload{
		Income:           cur.income,
		Expenses:         cur.expenses,
		Net:              net,
		IncomeGrowth:     Growth(cur.income, prev.income),
		ExpenseGrowth:    Growth(cur.expenses, prev.expenses),
		NetGrowth:        Growth(net, prev.net()),
		Due:              due,
		Collected:        collected,
		CollectionRate:   Percent(collected, due),
		OwnerShare:       net.Mul(OwnerShare).Round(2),
		ManagementShare:  net.Mul(ManagementShare).Round(2),
		MonthlyBreakdown: breakdown,
		ByCategory:       byCategory,
		Transactions:     len(d.transactions),
	}
}

// =============================================================================
// PORTFOLIO
// =============================================================================

// performersLimit is how many properties the top/bottom lists hold.
const performersLimit = 3

func portfolio(d *dataset) *PortfolioPayload {
	unitsByProperty := map[generic.PropertyID][]generic.Unit{}
	for _, u := range d.units {
		unitsByProperty[u.PropertyID] = append(unitsByProperty[u.PropertyID], u)
	}
	txByProperty := map[generic.PropertyID][]generic.Transaction{}
	for _, tx := range d.transactions {
		txByProperty[tx.PropertyID] = append(txByProperty[tx.PropertyID], tx)
	}

	out := &PortfolioPayload{
		TotalRevenue:   decimal.Zero,
		TotalExpenses:  decimal.Zero,
		TotalNetIncome: decimal.Zero,
	}
	var allRents []decimal.Decimal

	for _, p := range d.properties {
		units := unitsByProperty[p.ID]
		occupied := 0
		rents := make([]decimal.Decimal, 0, len(units))
		for _, u := range units {
			if u.Occupied {
				occupied++
			}
			rents = append(rents, u.Rent)
		}
		allRents = append(allRents, rents...)

		t := sumTotals(txByProperty[p.ID])
		m := PropertyMetrics{
			PropertyID:    p.ID,
			Name:          p.Name,
			Units:         len(units),
			Occupied:      occupied,
			OccupancyRate: PercentCount(occupied, len(units)),
			AverageRent:   Mean(rents),
			Revenue:       t.income,
			Expenses:      t.expenses,
			NetIncome:     t.net(),
			ROI:           Percent(t.net(), t.income),
		}
		out.Properties = append(out.Properties, m)

		out.TotalUnits += m.Units
		out.OccupiedUnits += m.Occupied
		out.TotalRevenue = out.TotalRevenue.Add(m.Revenue)
		out.TotalExpenses = out.TotalExpenses.Add(m.Expenses)
		out.TotalNetIncome = out.TotalNetIncome.Add(m.NetIncome)
	}

	sort.Slice(out.Properties, func(i, j int) bool { return out.Properties[i].PropertyID < out.Properties[j].PropertyID })
	out.TotalProperties = len(out.Properties)
	out.WeightedOccupancy = PercentCount(out.OccupiedUnits, out.TotalUnits)
	out.AverageRent = Mean(allRents)
	out.TopPerformers = rankByROI(out.Properties, true)
	out.BottomPerformers = rankByROI(out.Properties, false)
	return out
}

// rankByROI returns up to performersLimit properties, highest ROI first when
// desc, lowest first otherwise. Equal ROI falls back to property id.
func rankByROI(props []PropertyMetrics, desc bool) []PropertyMetrics {
	ranked := append([]PropertyMetrics(nil), props...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].ROI.Cmp(ranked[j].ROI); c != 0 {
			if desc {
				return c > 0
			}
			return c < 0
		}
		return ranked[i].PropertyID < ranked[j].PropertyID
	})
	if len(ranked) > performersLimit {
		ranked = ranked[:performersLimit]
	}
	return ranked
}

// =============================================================================
// TENANT
// =============================================================================

func tenant(d *dataset, r generic.DateRange) *TenantPayload {
	out := &TenantPayload{TotalTenants: len(d.tenants), ByStatus: map[string]int{}}

	for _, t := range d.tenants {
		out.ByStatus[string(t.Status)]++
		if t.Status == generic.TenantActive {
			out.ActiveTenants++
		}
		if r.Contains(t.MoveIn) {
			out.NewTenants++
		}
		if t.MoveOut != nil && r.Contains(*t.MoveOut) {
			out.MoveOuts++
		}
	}

	expiring := map[generic.LeaseID]bool{}
	var lengths []decimal.Decimal
	for _, l := range d.leases {
		if r.Contains(l.End) {
			expiring[l.ID] = true
		}
		lengths = append(lengths, decimal.NewFromInt(int64(generic.MonthsBetween(l.Start, l.End))))
	}
	for _, l := range d.leases {
		if l.RenewedFrom != "" && expiring[l.RenewedFrom] {
			out.RenewedLeases++
		}
	}
	out.ExpiringLeases = len(expiring)
	out.RenewalRate = PercentCount(out.RenewedLeases, out.ExpiringLeases)
	out.AverageLeaseMonths = Mean(lengths)

	rentPayments, onTime := 0, 0
	for _, tx := range d.transactions {
		if tx.Category != generic.CategoryRent || !tx.IsIncome() {
			continue
		}
		rentPayments++
		if tx.Status == generic.TxCompleted {
			onTime++
		}
	}
	out.OnTimePaymentRate = PercentCount(onTime, rentPayments)
	return out
}

// =============================================================================
// MAINTENANCE
// =============================================================================

func maintenance(d *dataset) *MaintenancePayload {
	out := &MaintenancePayload{
		Total:      len(d.maintenance),
		TotalCost:  decimal.Zero,
		ByCategory: map[string]int{},
		ByPriority: map[string]int{},
	}

	var resolution []decimal.Decimal
	for _, m := range d.maintenance {
		switch m.Status {
		case generic.MaintenanceOpen:
			out.Open++
		case generic.MaintenanceInProgress:
			out.InProgress++
		case generic.MaintenanceCompleted:
			out.Completed++
			if m.CompletedAt != nil {
				resolution = append(resolution, decimal.NewFromFloat(generic.HoursBetween(m.CreatedAt, *m.CompletedAt)))
			}
		case generic.MaintenanceCancelled:
			out.Cancelled++
		}
		out.ByCategory[m.Category]++
		out.ByPriority[string(m.Priority)]++
		out.TotalCost = out.TotalCost.Add(m.Cost)
	}

	out.CompletionRate = PercentCount(out.Completed, out.Total)
	out.AverageResolutionHours = Mean(resolution)
	out.AverageCost = SafeRatio(out.TotalCost, decimal.NewFromInt(int64(out.Total))).Round(2)
	return out
}
