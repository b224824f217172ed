package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvandessel/resistsim/internal/checkpoint"
	"github.com/nvandessel/resistsim/internal/engine"
)

func decodeRun(t *testing.T, out string) runSummary {
	t.Helper()
	var s runSummary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode run output %q: %v", out, err)
	}
	return s
}

func TestRunCmd_StoresRun(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	args := append([]string{"run", "--json", "--dir", tmpDir, "--seed", "5"}, smallLattice...)
	s := decodeRun(t, mustExecute(t, args...))

	if s.RunID == "" {
		t.Fatal("run was not stored")
	}
	if !s.Status.Terminal() {
		t.Errorf("status = %s, want terminal", s.Status)
	}
	if s.Seed != 5 {
		t.Errorf("seed = %d, want 5", s.Seed)
	}
	if s.Samples < 2 {
		t.Errorf("samples = %d, want at least initial and terminal", s.Samples)
	}
	if s.ResistantCells > s.Cells {
		t.Errorf("%d resistant of %d cells", s.ResistantCells, s.Cells)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "runs.db")); err != nil {
		t.Errorf("runs.db not created: %v", err)
	}

	out := mustExecute(t, "runs", "--json", "--dir", tmpDir)
	var listed struct {
		Runs []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Events int64  `json:"events"`
		} `json:"runs"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode runs output: %v", err)
	}
	if listed.Count != 1 || listed.Runs[0].ID != s.RunID {
		t.Fatalf("runs = %+v, want the one stored run", listed)
	}
	if listed.Runs[0].Status != s.Status.String() || listed.Runs[0].Events != s.Events {
		t.Errorf("stored run %+v does not match summary %+v", listed.Runs[0], s)
	}
}

func TestRunCmd_Reproducible(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	args := append([]string{"run", "--json", "--no-store", "--dir", tmpDir, "--seed", "21"}, smallLattice...)
	first := decodeRun(t, mustExecute(t, args...))
	second := decodeRun(t, mustExecute(t, append(args, "--full-rescan")...))

	if first.Events != second.Events || first.FinalTime != second.FinalTime || first.Cells != second.Cells {
		t.Errorf("incremental %+v != full rescan %+v", first, second)
	}
	if first.RunID != "" {
		t.Errorf("--no-store run has ID %q", first.RunID)
	}
}

func TestRunCmd_CheckpointResume(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	ckpt := filepath.Join(tmpDir, "state.ckpt")

	args := append([]string{"run", "--json", "--no-store", "--dir", tmpDir, "--checkpoint", ckpt}, smallLattice...)
	first := decodeRun(t, mustExecute(t, args...))
	if first.Checkpoint != ckpt {
		t.Errorf("checkpoint = %q, want %q", first.Checkpoint, ckpt)
	}

	cp, err := checkpoint.Read(ckpt)
	if err != nil {
		t.Fatalf("checkpoint.Read: %v", err)
	}
	if cp.Time != first.FinalTime || cp.Snapshot.TotalCells() != first.Cells {
		t.Errorf("checkpoint at t=%g with %d cells, run ended at t=%g with %d",
			cp.Time, cp.Snapshot.TotalCells(), first.FinalTime, first.Cells)
	}

	resumed := decodeRun(t, mustExecute(t, "run", "--json", "--no-store", "--dir", tmpDir, "--from", ckpt, "--horizon", "4"))
	if resumed.StartTime != first.FinalTime {
		t.Errorf("resumed at t=%g, want %g", resumed.StartTime, first.FinalTime)
	}
	if resumed.FinalTime < resumed.StartTime || resumed.FinalTime > 4 {
		t.Errorf("resumed run ended at t=%g", resumed.FinalTime)
	}
	if resumed.Seed != first.Seed {
		t.Errorf("resumed seed = %d, want checkpoint seed %d", resumed.Seed, first.Seed)
	}
}

func TestRunCmd_ResumeAtHorizon(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)
	ckpt := filepath.Join(tmpDir, "state.ckpt")

	args := append([]string{"run", "--no-store", "--dir", tmpDir, "--checkpoint", ckpt}, smallLattice...)
	mustExecute(t, args...)

	// The checkpoint was taken at the horizon, so nothing is left to simulate.
	if _, err := execute(t, "run", "--no-store", "--dir", tmpDir, "--from", ckpt, "--horizon", "2"); err == nil {
		t.Error("expected error resuming past the horizon")
	}
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	tests := []struct {
		name string
		args []string
	}{
		{"zero capacity", []string{"--capacity", "0"}},
		{"too many cells", []string{"--rows", "1", "--cols", "1", "--capacity", "5", "--cells", "6"}},
		{"unknown placement", []string{"--placement", "scattered"}},
		{"negative horizon", []string{"--horizon", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--no-store", "--dir", tmpDir}, tt.args...)
			_, err := execute(t, args...)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "invalid parameter") {
				t.Errorf("error = %v, want invalid parameter", err)
			}
		})
	}
}

func TestRunCmd_TextOutput(t *testing.T) {
	tmpDir := t.TempDir()
	isolateHome(t, tmpDir)

	args := append([]string{"run", "--no-store", "--dir", tmpDir}, smallLattice...)
	out := mustExecute(t, args...)
	for _, want := range []string{"status:", "events:", "resistant share:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Run ") {
		t.Errorf("--no-store output names a run:\n%s", out)
	}
}

func TestRunSummary_StatusJSON(t *testing.T) {
	data, err := json.Marshal(runSummary{Status: engine.HorizonReached})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status":"horizon_reached"`) {
		t.Errorf("status not encoded by name: %s", data)
	}
}
