package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/resistsim/internal/engine"
)

// InMemoryRunStore implements RunStore for tests and one-shot runs that
// should leave nothing on disk.
type InMemoryRunStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	order   []string
	samples map[string][]engine.Sample
}

// NewInMemoryRunStore creates an empty in-memory store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs:    make(map[string]*Run),
		samples: make(map[string][]engine.Sample),
	}
}

// CreateRun stores a copy of run.
func (s *InMemoryRunStore) CreateRun(ctx context.Context, run Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if _, exists := s.runs[run.ID]; exists {
		return "", fmt.Errorf("run %s already exists", run.ID)
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = engine.Idle.String()
	}
	s.runs[run.ID] = &run
	s.order = append(s.order, run.ID)
	return run.ID, nil
}

// AppendSamples appends to the run's trajectory.
func (s *InMemoryRunStore) AppendSamples(ctx context.Context, runID string, samples []engine.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	s.samples[runID] = append(s.samples[runID], samples...)
	return nil
}

// FinishRun records the run's terminal state.
func (s *InMemoryRunStore) FinishRun(ctx context.Context, runID string, status engine.Status, finalTime float64, events int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	now := time.Now().UTC()
	run.Status = status.String()
	run.FinalTime = finalTime
	run.Events = events
	run.FinishedAt = &now
	return nil
}

// GetRun returns a copy of the run.
func (s *InMemoryRunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	cp := *run
	return &cp, nil
}

// ListRuns returns matching runs newest first.
func (s *InMemoryRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []Run
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if filter.EnsembleID != "" && run.EnsembleID != filter.EnsembleID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		runs = append(runs, *run)
		if filter.Limit > 0 && len(runs) == filter.Limit {
			break
		}
	}
	return runs, nil
}

// Samples returns a copy of the run's trajectory.
func (s *InMemoryRunStore) Samples(ctx context.Context, runID string) ([]engine.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return slices.Clone(s.samples[runID]), nil
}

// DeleteRun removes the run and its trajectory.
func (s *InMemoryRunStore) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	delete(s.runs, runID)
	delete(s.samples, runID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == runID })
	return nil
}

// Close is a no-op.
func (s *InMemoryRunStore) Close() error { return nil }
