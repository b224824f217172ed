package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/resistsim/internal/engine"
)

func TestNewSQLiteRunStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "runs.db")

	s, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("runs.db was not created")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}

	version, err := schemaVersion(context.Background(), s.db)
	if err != nil {
		t.Fatalf("schemaVersion() error = %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("schema version = %d, want %d", version, SchemaVersion)
	}
}

func TestSQLiteRunStore_Reopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	s, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	id, err := s.CreateRun(ctx, Run{Seed: 1 << 63, Sites: 2, Horizon: 50, Config: []byte(`{"run":{"seed":1}}`)})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := s.AppendSamples(ctx, id, []engine.Sample{testSample(0, 0, engine.Idle, 5, 0)}); err != nil {
		t.Fatalf("AppendSamples() error = %v", err)
	}
	s.Close()

	s, err = NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()

	run, err := s.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.Seed != 1<<63 {
		t.Errorf("Seed = %d, want %d", run.Seed, uint64(1<<63))
	}
	if string(run.Config) != `{"run":{"seed":1}}` {
		t.Errorf("Config = %s", run.Config)
	}
	samples, err := s.Samples(ctx, id)
	if err != nil {
		t.Fatalf("Samples() error = %v", err)
	}
	if len(samples) != 1 || samples[0].Snapshot.TotalCells() != 5 {
		t.Errorf("Samples() = %+v", samples)
	}
	if err := CheckIntegrity(ctx, s.db); err != nil {
		t.Errorf("CheckIntegrity() error = %v", err)
	}
}

func TestSQLiteRunStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	id, _ := s.CreateRun(ctx, Run{Sites: 2, Horizon: 1})
	samples := []engine.Sample{testSample(0, 0, engine.Idle, 1, 0), testSample(1, 3, engine.Absorbed, 0, 0)}
	if err := s.AppendSamples(ctx, id, samples); err != nil {
		t.Fatalf("AppendSamples() error = %v", err)
	}
	if err := s.DeleteRun(ctx, id); err != nil {
		t.Fatalf("DeleteRun() error = %v", err)
	}

	for _, table := range []string{"samples", "site_counts"} {
		var n int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s has %d rows after delete, want 0", table, n)
		}
	}
}

func TestResetSchema(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	if _, err := s.CreateRun(ctx, Run{Sites: 1, Horizon: 1}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if err := ResetSchema(ctx, s.db); err != nil {
		t.Fatalf("ResetSchema() error = %v", err)
	}
	runs, err := s.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("ListRuns() after reset = %d runs, want 0", len(runs))
	}
}

func TestInitSchema_RejectsNewerVersion(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLiteRunStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion+1)); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	s.Close()

	if _, err := NewSQLiteRunStore(dbPath); err == nil || !strings.Contains(err.Error(), "newer than supported") {
		t.Errorf("reopen error = %v, want newer-version error", err)
	}
}

func TestCheckIntegrity_ReportsOrphans(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunStore() error = %v", err)
	}
	defer s.Close()

	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (run_id, seq, time, events, status, total_cells, resistant_share) VALUES ('ghost', 0, 0, 0, 'idle', 0, 0)`); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	err = CheckIntegrity(ctx, s.db)
	if err == nil || !strings.Contains(err.Error(), "orphaned samples") {
		t.Errorf("CheckIntegrity() = %v, want orphaned samples", err)
	}
}
