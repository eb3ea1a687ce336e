// Package memory provides an in-memory Store (for testing/dev).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/reconciliation"
	"github.com/warp/report-engine/reports"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================
// Implements generic.DataSource, reports.Store and reconciliation.Store.

type Store struct {
	mu sync.RWMutex

	transactions []generic.Transaction
	properties   map[generic.PropertyID]generic.Property
	units        map[generic.UnitID]generic.Unit
	tenants      map[generic.TenantID]generic.Tenant
	leases       map[generic.LeaseID]generic.Lease
	maintenance  []generic.MaintenanceRequest

	jobs            map[reports.JobID]reports.ScheduledReportJob
	runs            map[reports.RunID]reports.GeneratedReportRun
	reconciliations map[reconciliation.RecordID]reconciliation.Record
}

func New() *Store {
	return &Store{
		properties:      make(map[generic.PropertyID]generic.Property),
		units:           make(map[generic.UnitID]generic.Unit),
		tenants:         make(map[generic.TenantID]generic.Tenant),
		leases:          make(map[generic.LeaseID]generic.Lease),
		jobs:            make(map[reports.JobID]reports.ScheduledReportJob),
		runs:            make(map[reports.RunID]reports.GeneratedReportRun),
		reconciliations: make(map[reconciliation.RecordID]reconciliation.Record),
	}
}

// =============================================================================
// SEEDING
// =============================================================================

// AddTransactions inserts transactions keeping date order.
func (s *Store) AddTransactions(txs ...generic.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		// Binary search for insertion point
		i := sort.Search(len(s.transactions), func(i int) bool {
			return s.transactions[i].Date.After(tx.Date)
		})
		s.transactions = append(s.transactions, generic.Transaction{})
		copy(s.transactions[i+1:], s.transactions[i:])
		s.transactions[i] = tx
	}
}

func (s *Store) AddProperties(ps ...generic.Property) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		s.properties[p.ID] = p
	}
}

func (s *Store) AddUnits(us ...generic.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range us {
		s.units[u.ID] = u
	}
}

func (s *Store) AddTenants(ts ...generic.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range ts {
		s.tenants[t.ID] = t
	}
}

func (s *Store) AddLeases(ls ...generic.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range ls {
		s.leases[l.ID] = l
	}
}

func (s *Store) AddMaintenance(ms ...generic.MaintenanceRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = append(s.maintenance, ms...)
	sort.SliceStable(s.maintenance, func(i, j int) bool {
		return s.maintenance[i].CreatedAt.Before(s.maintenance[j].CreatedAt)
	})
}

// ImportDataset adds every record in d.
func (s *Store) ImportDataset(_ context.Context, d generic.Dataset) error {
	s.AddTransactions(d.Transactions...)
	s.AddProperties(d.Properties...)
	s.AddUnits(d.Units...)
	s.AddTenants(d.Tenants...)
	s.AddLeases(d.Leases...)
	s.AddMaintenance(d.Maintenance...)
	return nil
}

// Reset drops everything.
func (s *Store) Reset(_ context.Context) error {
	fresh := New()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = nil
	s.maintenance = nil
	s.properties = fresh.properties
	s.units = fresh.units
	s.tenants = fresh.tenants
	s.leases = fresh.leases
	s.jobs = fresh.jobs
	s.runs = fresh.runs
	s.reconciliations = fresh.reconciliations
	return nil
}

// =============================================================================
// DATA SOURCE
// =============================================================================

func (s *Store) Transactions(_ context.Context, f generic.RecordFilter) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Transaction
	for _, tx := range s.transactions {
		if !f.MatchesProperty(tx.PropertyID) {
			continue
		}
		if f.Range != nil && !f.Range.Contains(tx.Date) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *Store) Properties(_ context.Context, f generic.RecordFilter) ([]generic.Property, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Property
	for _, p := range s.properties {
		if f.MatchesProperty(p.ID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Units(_ context.Context, f generic.RecordFilter) ([]generic.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Unit
	for _, u := range s.units {
		if f.MatchesProperty(u.PropertyID) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Tenants(_ context.Context, f generic.RecordFilter) ([]generic.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Tenant
	for _, t := range s.tenants {
		if f.MatchesProperty(t.PropertyID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Leases(_ context.Context, f generic.RecordFilter) ([]generic.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Lease
	for _, l := range s.leases {
		if f.MatchesProperty(l.PropertyID) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) MaintenanceRequests(_ context.Context, f generic.RecordFilter) ([]generic.MaintenanceRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.MaintenanceRequest
	for _, m := range s.maintenance {
		if !f.MatchesProperty(m.PropertyID) {
			continue
		}
		if f.Range != nil && !f.Range.Contains(m.CreatedAt) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// =============================================================================
// JOBS
// =============================================================================

func (s *Store) CreateJob(_ context.Context, job reports.ScheduledReportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return generic.ErrConflict
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(_ context.Context, id reports.JobID) (reports.ScheduledReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return reports.ScheduledReportJob{}, generic.NewNotFound("scheduled report", string(id))
	}
	return cloneJob(job), nil
}

func (s *Store) ListJobs(_ context.Context, f reports.JobFilter) ([]reports.ScheduledReportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reports.ScheduledReportJob
	for _, job := range s.jobs {
		if f.Matches(job) {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRun.Equal(out[j].NextRun) {
			return out[i].NextRun.Before(out[j].NextRun)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateJobIfVersion(_ context.Context, job reports.ScheduledReportJob, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return generic.NewNotFound("scheduled report", string(job.ID))
	}
	if current.Version != expected {
		return generic.ErrConcurrentModification
	}
	job.Version = expected + 1
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id reports.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return generic.NewNotFound("scheduled report", string(id))
	}
	delete(s.jobs, id)
	return nil
}

func cloneJob(j reports.ScheduledReportJob) reports.ScheduledReportJob {
	j.Recipients = append([]string(nil), j.Recipients...)
	j.Settings.Formats = append([]reports.Format(nil), j.Settings.Formats...)
	j.Settings.PropertyIDs = append([]generic.PropertyID(nil), j.Settings.PropertyIDs...)
	if j.LastRun != nil {
		t := *j.LastRun
		j.LastRun = &t
	}
	return j
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) CreateRun(_ context.Context, run reports.GeneratedReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return generic.ErrConflict
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) UpdateRun(_ context.Context, run reports.GeneratedReportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return generic.NewNotFound("report run", string(run.ID))
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *Store) GetRun(_ context.Context, id reports.RunID) (reports.GeneratedReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return reports.GeneratedReportRun{}, generic.NewNotFound("report run", string(id))
	}
	return cloneRun(run), nil
}

func (s *Store) ListRuns(_ context.Context, f reports.RunFilter) ([]reports.GeneratedReportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reports.GeneratedReportRun
	for _, run := range s.runs {
		if f.Matches(run) {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneRun(r reports.GeneratedReportRun) reports.GeneratedReportRun {
	artifacts := make(map[reports.Format]string, len(r.Artifacts))
	for k, v := range r.Artifacts {
		artifacts[k] = v
	}
	r.Artifacts = artifacts
	r.Recipients = append([]string(nil), r.Recipients...)
	return r
}

// =============================================================================
// RECONCILIATIONS
// =============================================================================

func (s *Store) CreateReconciliationIfNoneOpen(_ context.Context, r reconciliation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reconciliations[r.ID]; ok {
		return fmt.Errorf("%w: reconciliation %s already exists", generic.ErrConflict, r.ID)
	}
	for _, existing := range s.reconciliations {
		if existing.Period == r.Period && existing.IsOpen() {
			return fmt.Errorf("%w: reconciliation %s for %s is %s", generic.ErrConflict, existing.ID, r.Period, existing.Status)
		}
	}
	s.reconciliations[r.ID] = cloneRecord(r)
	return nil
}

func (s *Store) GetReconciliation(_ context.Context, id reconciliation.RecordID) (reconciliation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reconciliations[id]
	if !ok {
		return reconciliation.Record{}, generic.NewNotFound("reconciliation", string(id))
	}
	return cloneRecord(r), nil
}

func (s *Store) ListReconciliations(_ context.Context, f reconciliation.Filter) ([]reconciliation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reconciliation.Record
	for _, r := range s.reconciliations {
		if f.Matches(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateReconciliationIfVersion(_ context.Context, r reconciliation.Record, expected int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.reconciliations[r.ID]
	if !ok {
		return generic.NewNotFound("reconciliation", string(r.ID))
	}
	if current.Version != expected {
		return generic.ErrConcurrentModification
	}
	r.Version = expected + 1
	s.reconciliations[r.ID] = cloneRecord(r)
	return nil
}

func cloneRecord(r reconciliation.Record) reconciliation.Record {
	r.ReconciledTransactionIDs = append([]generic.TransactionID{}, r.ReconciledTransactionIDs...)
	r.UnreconciledTransactionIDs = append([]generic.TransactionID{}, r.UnreconciledTransactionIDs...)
	r.Discrepancies = append([]reconciliation.Discrepancy{}, r.Discrepancies...)
	r.Notes = append([]reconciliation.Note(nil), r.Notes...)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		r.CompletedAt = &t
	}
	return r
}
