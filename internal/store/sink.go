package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nvandessel/resistsim/internal/engine"
)

// DefaultSinkBatch is how many samples a Sink buffers before writing.
const DefaultSinkBatch = 64

// Sink is an engine.Observer that streams samples of one run into a
// RunStore in batches. The first write error is kept and later samples are
// dropped; check Close's result. Writes ignore cancellation of the context
// the Sink was created with, so an interrupted run can still be flushed.
type Sink struct {
	ctx   context.Context
	store RunStore
	runID string
	batch int

	mu      sync.Mutex
	pending []engine.Sample
	err     error
	written int
}

// NewSink returns a Sink writing to runID. batch <= 0 uses DefaultSinkBatch.
func NewSink(ctx context.Context, s RunStore, runID string, batch int) *Sink {
	if batch <= 0 {
		batch = DefaultSinkBatch
	}
	return &Sink{ctx: context.WithoutCancel(ctx), store: s, runID: runID, batch: batch}
}

// Observe buffers smp and writes the buffer once it is full.
func (k *Sink) Observe(smp engine.Sample) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err != nil {
		return
	}
	k.pending = append(k.pending, smp)
	if len(k.pending) >= k.batch {
		k.flushLocked()
	}
}

// Written returns how many samples reached the store.
func (k *Sink) Written() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.written
}

// Close writes any buffered samples and returns the first error seen.
func (k *Sink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.err == nil && len(k.pending) > 0 {
		k.flushLocked()
	}
	return k.err
}

// Finish flushes the buffer and records the run's final state. A run cut
// short by cancellation is stored with its non-terminal status.
func (k *Sink) Finish(status engine.Status, finalTime float64, events int64) error {
	var errs []error
	if err := k.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storing samples: %w", err))
	}
	if err := k.store.FinishRun(k.ctx, k.runID, status, finalTime, events); err != nil {
		errs = append(errs, fmt.Errorf("finishing run: %w", err))
	}
	return errors.Join(errs...)
}

func (k *Sink) flushLocked() {
	if err := k.store.AppendSamples(k.ctx, k.runID, k.pending); err != nil {
		k.err = err
		return
	}
	k.written += len(k.pending)
	k.pending = k.pending[:0]
}
