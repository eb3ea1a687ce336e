package reconciliation

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/report-engine/generic"
	"github.com/warp/report-engine/metrics"
)

// =============================================================================
// SERVICE - Store-backed reconciliation operations
// =============================================================================
// Each mutation is read, transform with Matcher, compare-and-swap write,
// retried when another writer got there first.

const maxCASAttempts = 3

type Service struct {
	store   Store
	ledger  *generic.Ledger
	matcher *Matcher
	clock   generic.Clock
	log     logrus.FieldLogger
}

func NewService(store Store, ledger *generic.Ledger, matcher *Matcher, clock generic.Clock, log logrus.FieldLogger) *Service {
	if matcher == nil {
		matcher = NewMatcher(nil)
	}
	if clock == nil {
		clock = generic.SystemClock{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, ledger: ledger, matcher: matcher, clock: clock, log: log}
}

// Start snapshots the ledger for period and opens a Pending record.
// Fails with generic.ErrConflict while an open record exists for the period.
func (s *Service) Start(ctx context.Context, period generic.Period) (Record, error) {
	snapshot, err := s.ledger.Snapshot(ctx, period)
	if err != nil {
		return Record{}, err
	}

	rec := s.matcher.Start(snapshot, s.clock.Now())
	rec.Version = 1
	if err := s.store.CreateReconciliationIfNoneOpen(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("start reconciliation for %s: %w", period, err)
	}

	metrics.ReconciliationTransition(string(rec.Status))
	s.log.WithFields(logrus.Fields{
		"reconciliation_id": rec.ID,
		"period":            period.String(),
		"ledger_total":      rec.LedgerTotal.StringFixed(2),
		"transactions":      len(rec.UnreconciledTransactionIDs),
	}).Info("reconciliation started")
	return rec, nil
}

// ApplyStatement compares the uploaded statement with the record's period.
func (s *Service) ApplyStatement(ctx context.Context, id RecordID, stmt Statement) (Record, error) {
	current, err := s.store.GetReconciliation(ctx, id)
	if err != nil {
		return Record{}, err
	}
	snapshot, err := s.ledger.Snapshot(ctx, current.Period)
	if err != nil {
		return Record{}, err
	}

	return s.mutate(ctx, id, "statement", func(r Record) (Record, error) {
		return s.matcher.ApplyStatement(r, stmt, snapshot.Transactions, s.clock.Now())
	})
}

func (s *Service) Resolve(ctx context.Context, id RecordID, note string) (Record, error) {
	return s.mutate(ctx, id, "resolve", func(r Record) (Record, error) {
		return s.matcher.Resolve(r, note, s.clock.Now())
	})
}

func (s *Service) Dispute(ctx context.Context, id RecordID, note string) (Record, error) {
	return s.mutate(ctx, id, "dispute", func(r Record) (Record, error) {
		return s.matcher.Dispute(r, note, s.clock.Now())
	})
}

func (s *Service) Reopen(ctx context.Context, id RecordID, note string) (Record, error) {
	return s.mutate(ctx, id, "reopen", func(r Record) (Record, error) {
		return s.matcher.Reopen(r, note, s.clock.Now())
	})
}

func (s *Service) Get(ctx context.Context, id RecordID) (Record, error) {
	return s.store.GetReconciliation(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]Record, error) {
	return s.store.ListReconciliations(ctx, filter)
}

func (s *Service) mutate(ctx context.Context, id RecordID, action string, fn func(Record) (Record, error)) (Record, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.store.GetReconciliation(ctx, id)
		if err != nil {
			return Record{}, err
		}

		next, err := fn(current)
		if err != nil {
			return Record{}, err
		}
		if err := next.CheckPartition(); err != nil {
			return Record{}, fmt.Errorf("%s reconciliation %s: %w", action, id, err)
		}

		err = s.store.UpdateReconciliationIfVersion(ctx, next, current.Version)
		if err == nil {
			next.Version = current.Version + 1
			if next.Status != current.Status {
				metrics.ReconciliationTransition(string(next.Status))
			}
			s.log.WithFields(logrus.Fields{
				"reconciliation_id": id,
				"period":            next.Period.String(),
				"action":            action,
				"from":              current.Status,
				"status":            next.Status,
				"difference":        next.Difference.StringFixed(2),
			}).Info("reconciliation updated")
			return next, nil
		}
		if !generic.IsRetryable(err) {
			return Record{}, fmt.Errorf("%s reconciliation %s: %w", action, id, err)
		}
	}
	return Record{}, fmt.Errorf("%s reconciliation %s: %w", action, id, generic.ErrConcurrentModification)
}
