package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nvandessel/resistsim/internal/engine"
)

func TestSink_BatchesAndFlushes(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryRunStore()
	id, _ := s.CreateRun(ctx, Run{Sites: 2, Horizon: 1})

	sink := NewSink(ctx, s, id, 2)
	for i := 0; i < 5; i++ {
		sink.Observe(testSample(float64(i), int64(i), engine.Running, 1, 0))
	}
	if got := sink.Written(); got != 4 {
		t.Errorf("Written() before Close = %d, want 4", got)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	samples, _ := s.Samples(ctx, id)
	if len(samples) != 5 {
		t.Fatalf("store has %d samples, want 5", len(samples))
	}
	for i, smp := range samples {
		if smp.Time != float64(i) {
			t.Errorf("sample %d time = %v, want %d", i, smp.Time, i)
		}
	}
}

func TestSink_KeepsFirstError(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(ctx, NewInMemoryRunStore(), "missing", 1)
	sink.Observe(testSample(0, 0, engine.Idle, 1, 0))
	sink.Observe(testSample(1, 1, engine.Running, 1, 0))
	if err := sink.Close(); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Close() error = %v, want ErrRunNotFound", err)
	}
	if sink.Written() != 0 {
		t.Errorf("Written() = %d, want 0", sink.Written())
	}
}

func TestSink_FinishAfterCancel(t *testing.T) {
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	id, err := s.CreateRun(ctx, Run{Sites: 2, Horizon: 100, Status: engine.Idle.String()})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}

	sink := NewSink(ctx, s, id, 4)
	for i := 0; i < 10; i++ {
		sink.Observe(testSample(float64(i), int64(i), engine.Running, 1, 0))
	}
	cancel()

	if err := sink.Finish(engine.Running, 9, 9); err != nil {
		t.Fatalf("Finish() after cancel error = %v", err)
	}

	bg := context.Background()
	samples, err := s.Samples(bg, id)
	if err != nil {
		t.Fatalf("Samples() error = %v", err)
	}
	if len(samples) != 10 {
		t.Errorf("stored %d samples, want 10", len(samples))
	}
	run, err := s.GetRun(bg, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Status != "running" || run.Events != 9 || run.FinishedAt == nil {
		t.Errorf("run = %+v, want running at 9 events with finished_at set", run)
	}
}

func TestSink_FinishReportsMissingRun(t *testing.T) {
	sink := NewSink(context.Background(), NewInMemoryRunStore(), "missing", 8)
	if err := sink.Finish(engine.Absorbed, 1, 1); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Finish() error = %v, want ErrRunNotFound", err)
	}
}
