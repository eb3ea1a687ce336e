/*
scenarios.go - Demo data sets for testing and demonstrations

PURPOSE:
  Provides pre-built data sets that populate the store with realistic
  property-management records so every report type and the reconciliation
  workflow have something to work on. Dates are generated relative to the
  clock, so "last month" always has data.

AVAILABLE SCENARIOS:
  small-portfolio:    Two buildings, seven units, three months of rent and costs
  month-end-close:    Last month with references, a failed and a pending payment
  maintenance-backlog: Open urgent and high priority work orders
  owner-reports:      Small portfolio plus monthly, weekly and quarterly schedules

HOW SCENARIOS WORK:
  1. Reset the store (clear all data, jobs and runs)
  2. Import the data set
  3. Optionally create scheduled jobs from factory presets

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "month-end-close"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
  - factory/job.go: Preset job definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/factory"
	"github.com/warp/report-engine/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-portfolio",
		Name:        "Small Portfolio",
		Description: "Two buildings, seven units, three months of rent, utilities and repairs",
		Category:    "portfolio",
	},
	{
		ID:          "month-end-close",
		Name:        "Month-End Close",
		Description: "Last month's ledger with payment references, ready to reconcile against a statement",
		Category:    "reconciliation",
	},
	{
		ID:          "maintenance-backlog",
		Name:        "Maintenance Backlog",
		Description: "Open urgent and high priority work orders across both buildings",
		Category:    "maintenance",
	},
	{
		ID:          "owner-reports",
		Name:        "Owner Reports",
		Description: "Small portfolio with monthly financial, weekly maintenance and quarterly portfolio schedules",
		Category:    "reports",
	},
}

type scenario struct {
	data func(now time.Time) generic.Dataset
	jobs func() []string
}

var scenarioLoaders = map[string]scenario{
	"small-portfolio":     {data: func(now time.Time) generic.Dataset { return portfolioData(now, 3) }},
	"month-end-close":     {data: monthEndCloseData},
	"maintenance-backlog": {data: maintenanceBacklogData},
	"owner-reports": {
		data: func(now time.Time) generic.Dataset { return portfolioData(now, 3) },
		jobs: func() []string {
			return []string{
				factory.MonthlyFinancialJSON("Owner statement", "owner-1", "UTC", "owner@example.com"),
				factory.WeeklyMaintenanceJSON("Weekly maintenance", "owner-1", "UTC", "ops@example.com"),
				factory.QuarterlyPortfolioJSON("Quarterly portfolio", "owner-1", "UTC", "owner@example.com", "accounting@example.com"),
			}
		},
	},
}

// ListScenarios returns all available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined data set.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown scenario %q", req.ScenarioID), nil)
		return
	}

	out, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		h.writeDomainError(w, "failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) loadScenario(ctx context.Context, id string) (LoadScenarioDTO, error) {
	sc := scenarioLoaders[id]

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Importer.Reset(ctx); err != nil {
		return LoadScenarioDTO{}, fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	data := sc.data(h.Clock.Now())
	if err := h.Importer.ImportDataset(ctx, data); err != nil {
		return LoadScenarioDTO{}, fmt.Errorf("import: %w", err)
	}

	out := LoadScenarioDTO{Scenario: id, Records: data.Size()}
	if sc.jobs != nil {
		for _, def := range sc.jobs() {
			job, err := h.JobFactory.ParseJob(def)
			if err != nil {
				return out, err
			}
			if _, err := h.Pipeline.CreateJob(ctx, job); err != nil {
				return out, err
			}
			out.Jobs++
		}
	}

	h.currentScenario = id
	h.Log.WithFields(logrus.Fields{"scenario": id, "records": out.Records, "jobs": out.Jobs}).Info("scenario loaded")
	return out, nil
}

// =============================================================================
// DATA SETS
// =============================================================================

func portfolioData(now time.Time, months int) generic.Dataset {
	b := &datasetBuilder{}

	b.property("P-100", "Maple Court", "12 Maple St", "850000")
	b.property("P-200", "Harbor Lofts", "300 Harbor Way", "1200000")

	moveIn := monthStart(now, -18)
	occupied := []struct {
		unit, property, name, rent, tenant string
	}{
		{"U-101", "P-100", "Unit 101", "1450", "Ana Lopez"},
		{"U-102", "P-100", "Unit 102", "1450", "Ben Carter"},
		{"U-103", "P-100", "Unit 103", "1600", "Chen Wei"},
		{"U-104", "P-100", "Unit 104", "1600", "Dara Singh"},
		{"U-201", "P-200", "Loft A", "2100", "Eli Novak"},
		{"U-202", "P-200", "Loft B", "2300", "Fay Okafor"},
	}
	for _, o := range occupied {
		b.unit(o.unit, o.property, o.name, o.rent, true)
		b.tenantWithLease(o.unit, o.property, o.name, o.tenant, o.rent, moveIn)
	}
	b.unit("U-203", "P-200", "Loft C", "2300", false)

	for k := months; k >= 1; k-- {
		start := monthStart(now, -k)
		for _, o := range occupied {
			b.rent(o.property, o.unit, o.rent, start.AddDate(0, 0, 1+len(b.d.Transactions)%4))
		}
		b.expense("P-100", generic.CategoryUtilities, "320.00", start.AddDate(0, 0, 14), "UTIL")
		b.expense("P-200", generic.CategoryUtilities, "410.00", start.AddDate(0, 0, 14), "UTIL")
		b.expense("P-100", generic.CategoryInsurance, "180.00", start.AddDate(0, 0, 19), "INS")
		b.expense("P-200", generic.CategoryInsurance, "240.00", start.AddDate(0, 0, 19), "INS")
		b.expense("P-100", generic.CategoryManagement, "610.00", start.AddDate(0, 0, 27), "MGMT")
		b.expense("P-200", generic.CategoryManagement, "440.00", start.AddDate(0, 0, 27), "MGMT")
	}

	repairs := monthStart(now, -1)
	b.workOrder("P-100", "U-102", "plumbing", generic.PriorityHigh, generic.MaintenanceCompleted, "275.00", repairs.AddDate(0, 0, 3), 30)
	b.workOrder("P-200", "U-201", "hvac", generic.PriorityMedium, generic.MaintenanceCompleted, "540.00", repairs.AddDate(0, 0, 8), 72)
	b.workOrder("P-100", "", "landscaping", generic.PriorityLow, generic.MaintenanceOpen, "0", repairs.AddDate(0, 0, 20), 0)
	return b.d
}

func monthEndCloseData(now time.Time) generic.Dataset {
	d := portfolioData(now, 2)
	b := &datasetBuilder{d: d, seq: len(d.Transactions)}
	last := monthStart(now, -1)

	b.txn("P-200", "U-202", generic.CategoryRent, "2300.00", last.AddDate(0, 0, 24), "RENT-U-202-LATE", generic.TxFailed)
	b.txn("P-100", "U-104", generic.CategoryDeposit, "800.00", last.AddDate(0, 0, 26), "DEP-U-104", generic.TxPending)
	return b.d
}

func maintenanceBacklogData(now time.Time) generic.Dataset {
	d := portfolioData(now, 1)
	b := &datasetBuilder{d: d, seq: len(d.Transactions)}
	opened := monthStart(now, -1)

	b.workOrder("P-100", "U-101", "electrical", generic.PriorityUrgent, generic.MaintenanceOpen, "0", opened.AddDate(0, 0, 2), 0)
	b.workOrder("P-100", "U-103", "plumbing", generic.PriorityHigh, generic.MaintenanceInProgress, "0", opened.AddDate(0, 0, 5), 0)
	b.workOrder("P-200", "U-202", "appliance", generic.PriorityHigh, generic.MaintenanceOpen, "0", opened.AddDate(0, 0, 9), 0)
	b.workOrder("P-200", "", "roofing", generic.PriorityUrgent, generic.MaintenanceInProgress, "0", opened.AddDate(0, 0, 11), 0)
	b.workOrder("P-200", "U-201", "hvac", generic.PriorityMedium, generic.MaintenanceCompleted, "1250.00", opened.AddDate(0, 0, 1), 120)
	b.workOrder("P-100", "U-104", "pest_control", generic.PriorityLow, generic.MaintenanceCancelled, "0", opened.AddDate(0, 0, 4), 0)
	return b.d
}

// monthStart is midnight UTC on the first of the month offset months from now.
func monthStart(now time.Time, offset int) time.Time {
	y, m := generic.AddMonths(now.UTC().Year(), now.UTC().Month(), offset)
	return generic.StartOfMonth(y, m)
}

// =============================================================================
// BUILDER
// =============================================================================

type datasetBuilder struct {
	d   generic.Dataset
	seq int
}

func (b *datasetBuilder) property(id, name, address, price string) {
	b.d.Properties = append(b.d.Properties, generic.Property{
		ID:            generic.PropertyID(id),
		Name:          name,
		Address:       address,
		PurchasePrice: decimal.RequireFromString(price),
	})
}

func (b *datasetBuilder) unit(id, property, name, rent string, occupied bool) {
	b.d.Units = append(b.d.Units, generic.Unit{
		ID:         generic.UnitID(id),
		PropertyID: generic.PropertyID(property),
		Name:       name,
		Rent:       decimal.RequireFromString(rent),
		Occupied:   occupied,
	})
}

func (b *datasetBuilder) tenantWithLease(unit, property, unitName, tenant, rent string, moveIn time.Time) {
	tenantID := generic.TenantID("T-" + unit)
	b.d.Tenants = append(b.d.Tenants, generic.Tenant{
		ID:         tenantID,
		Name:       tenant,
		PropertyID: generic.PropertyID(property),
		Status:     generic.TenantActive,
		MoveIn:     moveIn,
	})
	b.d.Leases = append(b.d.Leases,
		generic.Lease{
			ID:         generic.LeaseID("L-" + unit + "-1"),
			TenantID:   tenantID,
			PropertyID: generic.PropertyID(property),
			UnitID:     generic.UnitID(unit),
			Start:      moveIn,
			End:        moveIn.AddDate(1, 0, -1),
			Rent:       decimal.RequireFromString(rent),
			Status:     generic.LeaseExpired,
		},
		generic.Lease{
			ID:          generic.LeaseID("L-" + unit + "-2"),
			TenantID:    tenantID,
			PropertyID:  generic.PropertyID(property),
			UnitID:      generic.UnitID(unit),
			Start:       moveIn.AddDate(1, 0, 0),
			End:         moveIn.AddDate(2, 0, -1),
			Rent:        decimal.RequireFromString(rent),
			Status:      generic.LeaseActive,
			RenewedFrom: generic.LeaseID("L-" + unit + "-1"),
		},
	)
}

func (b *datasetBuilder) rent(property, unit, amount string, date time.Time) {
	ref := fmt.Sprintf("RENT-%s-%s", unit, date.Format("200601"))
	b.txn(property, unit, generic.CategoryRent, amount, date, ref, generic.TxCompleted)
}

func (b *datasetBuilder) expense(property, category, amount string, date time.Time, refPrefix string) {
	ref := fmt.Sprintf("%s-%s-%s", refPrefix, property, date.Format("200601"))
	b.txn(property, "", category, "-"+amount, date, ref, generic.TxCompleted)
}

func (b *datasetBuilder) txn(property, unit, category, amount string, date time.Time, ref string, status generic.TransactionStatus) {
	b.seq++
	var tenant generic.TenantID
	if unit != "" && category == generic.CategoryRent {
		tenant = generic.TenantID("T-" + unit)
	}
	b.d.Transactions = append(b.d.Transactions, generic.Transaction{
		ID:          generic.TransactionID(fmt.Sprintf("TX-%04d", b.seq)),
		PropertyID:  generic.PropertyID(property),
		UnitID:      generic.UnitID(unit),
		TenantID:    tenant,
		Category:    category,
		Amount:      decimal.RequireFromString(amount),
		Date:        date,
		Reference:   ref,
		Status:      status,
		Description: category,
	})
}

// workOrder adds a maintenance request; hoursToClose is used only for
// completed requests.
func (b *datasetBuilder) workOrder(property, unit, category string, priority generic.MaintenancePriority, status generic.MaintenanceStatus, cost string, opened time.Time, hoursToClose int) {
	req := generic.MaintenanceRequest{
		ID:         generic.MaintenanceID(fmt.Sprintf("M-%03d", len(b.d.Maintenance)+1)),
		PropertyID: generic.PropertyID(property),
		UnitID:     generic.UnitID(unit),
		Category:   category,
		Priority:   priority,
		Status:     status,
		Cost:       decimal.RequireFromString(cost),
		CreatedAt:  opened,
	}
	if status == generic.MaintenanceCompleted {
		done := opened.Add(time.Duration(hoursToClose) * time.Hour)
		req.CompletedAt = &done
	}
	b.d.Maintenance = append(b.d.Maintenance, req)
}
