// Package store defines the RunStore interface for persisting simulation
// runs and their recorded trajectories.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nvandessel/resistsim/internal/engine"
)

// ErrRunNotFound is returned when a run ID is unknown to the store.
var ErrRunNotFound = errors.New("run not found")

// Run describes one simulation run.
type Run struct {
	ID         string          `json:"id"`
	EnsembleID string          `json:"ensemble_id,omitempty"` // shared by replicates of one ensemble
	Replicate  int             `json:"replicate"`
	Seed       uint64          `json:"seed"`
	Sites      int             `json:"sites"`
	Horizon    float64         `json:"horizon"`
	Config     json.RawMessage `json:"config,omitempty"` // the SimConfig the run was started with
	Status     string          `json:"status"`           // engine.Status name
	FinalTime  float64         `json:"final_time"`
	Events     int64           `json:"events"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	EnsembleID string
	Status     string
	Limit      int
}

// RunStore persists runs and their trajectory samples.
type RunStore interface {
	// CreateRun stores a new run and returns its ID. An empty ID is
	// replaced with a fresh UUID.
	CreateRun(ctx context.Context, run Run) (string, error)

	// AppendSamples adds samples to a run's trajectory in order.
	AppendSamples(ctx context.Context, runID string, samples []engine.Sample) error

	// FinishRun records a run's terminal state.
	FinishRun(ctx context.Context, runID string, status engine.Status, finalTime float64, events int64) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Samples returns a run's trajectory in recording order.
	Samples(ctx context.Context, runID string) ([]engine.Sample, error)

	DeleteRun(ctx context.Context, runID string) error
	Close() error
}
