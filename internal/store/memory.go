package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// InMemoryHistoryStore is a HistoryStore backed by maps. Used for tests
// and when history persistence is disabled.
type InMemoryHistoryStore struct {
	mu   sync.RWMutex
	runs map[string]Run
	days map[string][]Day
}

// NewInMemoryHistoryStore creates an empty in-memory store.
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		runs: make(map[string]Run),
		days: make(map[string][]Day),
	}
}

// CreateRun registers a run.
func (s *InMemoryHistoryStore) CreateRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if _, ok := s.runs[run.ID]; ok {
		return fmt.Errorf("create run %s: %w", run.ID, ErrDuplicateRun)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	s.runs[run.ID] = run
	return nil
}

// RecordDay appends a day to a known run.
func (s *InMemoryHistoryStore) RecordDay(ctx context.Context, day Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[day.RunID]; !ok {
		return fmt.Errorf("record day %d for %s: %w", day.Day, day.RunID, ErrRunNotFound)
	}
	for _, d := range s.days[day.RunID] {
		if d.Day == day.Day {
			return fmt.Errorf("record day %d for %s: %w", day.Day, day.RunID, ErrDuplicateDay)
		}
	}
	if day.RecordedAt.IsZero() {
		day.RecordedAt = time.Now()
	}
	s.days[day.RunID] = append(s.days[day.RunID], day)
	return nil
}

// Days returns a copy of a run's history ordered by day.
func (s *InMemoryHistoryStore) Days(ctx context.Context, runID string) ([]Day, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("days for %s: %w", runID, ErrRunNotFound)
	}
	days := append([]Day(nil), s.days[runID]...)
	sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })
	return days, nil
}

// Runs returns all runs, newest first.
func (s *InMemoryHistoryStore) Runs(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// Close is a no-op.
func (s *InMemoryHistoryStore) Close() error {
	return nil
}
