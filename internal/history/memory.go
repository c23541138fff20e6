package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loadsmith/loadsmith/internal/domain"
)

// MemoryStore is the default, in-process Store backend: a mutex-guarded
// map of append-only slices keyed by test name, matching the "history
// store is accessed only by the orchestrator (single-writer)... may be
// read concurrently" rule from spec §5.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]domain.HistoryRecord
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]domain.HistoryRecord)}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, result domain.RunResult) (domain.HistoryRecord, error) {
	rec := domain.HistoryRecordFromRunResult(result)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TestName] = append(s.records[rec.TestName], rec)
	return rec, nil
}

// ListByTest implements Store, oldest first.
func (s *MemoryStore) ListByTest(_ context.Context, name string) ([]domain.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.HistoryRecord, len(s.records[name]))
	copy(out, s.records[name])
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionDate.Before(out[j].ExecutionDate) })
	return out, nil
}

// Recent implements Store: newest first, at most n.
func (s *MemoryStore) Recent(ctx context.Context, name string, n int) ([]domain.HistoryRecord, error) {
	all, err := s.ListByTest(ctx, name)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutionDate.After(all[j].ExecutionDate) })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all, nil
}

// ByRange implements Store.
func (s *MemoryStore) ByRange(ctx context.Context, name string, from, to time.Time) ([]domain.HistoryRecord, error) {
	all, err := s.ListByTest(ctx, name)
	if err != nil {
		return nil, err
	}
	out := all[:0:0]
	for _, r := range all {
		if !r.ExecutionDate.Before(from) && !r.ExecutionDate.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Baseline implements Store, per spec §4.6: requires at least 3
// Completed records, else ok is false.
func (s *MemoryStore) Baseline(ctx context.Context, name string, sampleSize int) (domain.HistoryRecord, bool, error) {
	recent, err := s.Recent(ctx, name, 0)
	if err != nil {
		return domain.HistoryRecord{}, false, err
	}

	completed := recent[:0:0]
	for _, r := range recent {
		if r.Status == domain.StatusCompleted {
			completed = append(completed, r)
		}
	}
	if sampleSize > 0 && len(completed) > sampleSize {
		completed = completed[:sampleSize]
	}

	rec, ok := baselineFromRecent(name, completed)
	return rec, ok, nil
}

// Cleanup implements Store: deletes records older than retentionDays.
func (s *MemoryStore) Cleanup(_ context.Context, retentionDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for name, recs := range s.records {
		kept := recs[:0]
		for _, r := range recs {
			if r.ExecutionDate.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, r)
		}
		s.records[name] = kept
	}
	return deleted, nil
}
