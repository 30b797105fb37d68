package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/priorcheck/priorcheck/internal/sbc"
)

// MemoryRunStore is an in-memory RunStore for tests and throwaway runs.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]*memoryRun
}

type memoryRun struct {
	config    sbc.RunConfig
	createdAt time.Time
	results   map[int]sbc.TrialResult
	skips     map[int]bool
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]*memoryRun)}
}

// CreateRun implements RunStore.
func (s *MemoryRunStore) CreateRun(ctx context.Context, run *sbc.CalibrationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	mr := &memoryRun{
		config:    run.Config,
		createdAt: time.Now().UTC(),
		results:   make(map[int]sbc.TrialResult),
		skips:     make(map[int]bool),
	}
	for _, res := range run.Results {
		mr.results[res.Index] = res
	}
	for _, idx := range run.Skipped {
		mr.skips[idx] = true
	}
	s.runs[run.ID] = mr
	return nil
}

// LoadRun implements RunStore.
func (s *MemoryRunStore) LoadRun(ctx context.Context, id string) (*sbc.CalibrationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s not found", id)
	}
	run := &sbc.CalibrationRun{ID: id, Config: mr.config}
	indexes := make([]int, 0, len(mr.results))
	for idx := range mr.results {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		run.Results = append(run.Results, mr.results[idx])
	}
	for idx := range mr.skips {
		run.Skipped = append(run.Skipped, idx)
	}
	sort.Ints(run.Skipped)
	return run, nil
}

// AppendResult implements RunStore. Re-appending an index is a no-op.
func (s *MemoryRunStore) AppendResult(ctx context.Context, runID string, res sbc.TrialResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mr, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if _, exists := mr.results[res.Index]; exists {
		return nil
	}
	mr.results[res.Index] = res
	return nil
}

// RecordSkip implements RunStore. Re-recording an index is a no-op.
func (s *MemoryRunStore) RecordSkip(ctx context.Context, runID string, trialIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mr, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	mr.skips[trialIndex] = true
	return nil
}

// ListRuns implements RunStore.
func (s *MemoryRunStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]RunSummary, 0, len(s.runs))
	for id, mr := range s.runs {
		summaries = append(summaries, RunSummary{
			ID:        id,
			NumTrials: mr.config.NumTrials,
			Completed: len(mr.results),
			Skipped:   len(mr.skips),
			CreatedAt: mr.createdAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// Close implements RunStore.
func (s *MemoryRunStore) Close() error { return nil }
