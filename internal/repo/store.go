package repo

import (
	"context"
	"slices"
	"sync"

	"github.com/miradorstack/mirador-healing/internal/models"
)

// DefaultMemoryRetention bounds each in-memory record list.
const DefaultMemoryRetention = 1000

// Store persists the engine's append-only records. List calls return the
// newest records first; a limit of zero or less returns everything.
type Store interface {
	SaveAnomalies(ctx context.Context, anomalies []models.Anomaly) error
	ListAnomalies(ctx context.Context, limit int) ([]models.Anomaly, error)
	SaveActions(ctx context.Context, actions []models.HealingAction) error
	ListActions(ctx context.Context, limit int) ([]models.HealingAction, error)
	SaveChanges(ctx context.Context, changes []models.ChangeRecord) error
	ListChanges(ctx context.Context, limit int) ([]models.ChangeRecord, error)
	SaveReport(ctx context.Context, report models.CycleReport) error
	ListReports(ctx context.Context, limit int) ([]models.CycleReport, error)
	Close() error
}

// MemoryStore keeps records in bounded in-process lists.
type MemoryStore struct {
	retention int

	mu        sync.RWMutex
	anomalies []models.Anomaly
	actions   []models.HealingAction
	changes   []models.ChangeRecord
	reports   []models.CycleReport
}

// NewMemoryStore creates a store keeping at most retention records per kind.
func NewMemoryStore(retention int) *MemoryStore {
	if retention <= 0 {
		retention = DefaultMemoryRetention
	}
	return &MemoryStore{retention: retention}
}

func (s *MemoryStore) SaveAnomalies(_ context.Context, anomalies []models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = appendBounded(s.anomalies, anomalies, s.retention)
	return nil
}

func (s *MemoryStore) ListAnomalies(_ context.Context, limit int) ([]models.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.anomalies, limit), nil
}

func (s *MemoryStore) SaveActions(_ context.Context, actions []models.HealingAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = appendBounded(s.actions, actions, s.retention)
	return nil
}

func (s *MemoryStore) ListActions(_ context.Context, limit int) ([]models.HealingAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.actions, limit), nil
}

func (s *MemoryStore) SaveChanges(_ context.Context, changes []models.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = appendBounded(s.changes, changes, s.retention)
	return nil
}

func (s *MemoryStore) ListChanges(_ context.Context, limit int) ([]models.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.changes, limit), nil
}

func (s *MemoryStore) SaveReport(_ context.Context, report models.CycleReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = appendBounded(s.reports, []models.CycleReport{report}, s.retention)
	return nil
}

func (s *MemoryStore) ListReports(_ context.Context, limit int) ([]models.CycleReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.reports, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func appendBounded[T any](dst, src []T, retention int) []T {
	dst = append(dst, src...)
	if over := len(dst) - retention; over > 0 {
		dst = slices.Clone(dst[over:])
	}
	return dst
}

func newestFirst[T any](items []T, limit int) []T {
	n := len(items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i])
	}
	return out
}
