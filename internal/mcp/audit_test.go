package mcp

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_NilSafety(t *testing.T) {
	t.Run("nil logger Log is no-op", func(t *testing.T) {
		var logger *AuditLogger
		logger.Log(AuditEntry{Tool: "test"})
	})

	t.Run("nil logger Close is no-op", func(t *testing.T) {
		var logger *AuditLogger
		if err := logger.Close(); err != nil {
			t.Errorf("Close() on nil logger returned error: %v", err)
		}
	})
}

func readAuditEntries(t *testing.T, path string) []AuditEntry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening audit log: %v", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("parsing audit entry %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestAuditLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger.Log(AuditEntry{
		Timestamp:  time.Now(),
		Tool:       "resistsim_simulate",
		DurationMs: 42,
		Status:     "success",
		Params:     map[string]string{"replicates": "4"},
	})
	logger.Log(AuditEntry{Tool: "resistsim_runs", Status: "error", Error: "no run store"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readAuditEntries(t, filepath.Join(dir, "audit.jsonl"))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Tool != "resistsim_simulate" || entries[0].DurationMs != 42 {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[0].Params["replicates"] != "4" {
		t.Errorf("params[replicates] = %q, want 4", entries[0].Params["replicates"])
	}
	if entries[1].Status != "error" || entries[1].Error != "no run store" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestAuditLogger_LogAfterClose(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)
	logger.Close()

	logger.Log(AuditEntry{Tool: "late"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	dir := t.TempDir()
	logger := NewAuditLogger(dir)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log(AuditEntry{Tool: "resistsim_lattice", Status: "success"})
		}()
	}
	wg.Wait()
	logger.Close()

	if got := len(readAuditEntries(t, filepath.Join(dir, "audit.jsonl"))); got != 20 {
		t.Errorf("got %d entries, want 20", got)
	}
}

func TestToolParams(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]interface{}
		want   map[string]string
	}{
		{
			name:   "empty",
			params: nil,
			want:   nil,
		},
		{
			name: "zero values skipped",
			params: map[string]interface{}{
				"rows":     0,
				"format":   "",
				"horizon":  0.0,
				"seed":     uint64(0),
				"periodic": false,
			},
			want: map[string]string{"_param_count": "0"},
		},
		{
			name: "values rendered",
			params: map[string]interface{}{
				"rows":    3,
				"horizon": 12.5,
				"seed":    uint64(9),
				"format":  "dot",
			},
			want: map[string]string{
				"rows":         "3",
				"horizon":      "12.5",
				"seed":         "9",
				"format":       "dot",
				"_param_count": "4",
			},
		},
		{
			name:   "ids masked",
			params: map[string]interface{}{"run_id": "0b7c", "ensemble_id": "a1"},
			want: map[string]string{
				"run_id":       "(set)",
				"ensemble_id":  "(set)",
				"_param_count": "2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toolParams(tt.params)
			if len(got) != len(tt.want) {
				t.Fatalf("toolParams() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("toolParams()[%q] = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestAuditTool(t *testing.T) {
	s := setupTestServer(t)
	dir := t.TempDir()
	s.auditLogger = NewAuditLogger(dir)

	start := time.Now()
	s.auditTool("resistsim_simulate", start, nil, map[string]string{"rows": "3"})
	s.auditTool("resistsim_runs", start, errors.New("boom"), nil)
	s.auditLogger.Close()

	entries := readAuditEntries(t, filepath.Join(dir, "audit.jsonl"))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Status != "success" || entries[0].Error != "" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Status != "error" || entries[1].Error != "boom" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestHandlers_Audited(t *testing.T) {
	s := setupTestServer(t)
	dir := t.TempDir()
	s.auditLogger = NewAuditLogger(dir)

	if _, _, err := s.handleLattice(t.Context(), nil, LatticeInput{Format: "dot"}); err != nil {
		t.Fatalf("handleLattice: %v", err)
	}
	s.auditLogger.Close()

	entries := readAuditEntries(t, filepath.Join(dir, "audit.jsonl"))
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Tool != "resistsim_lattice" || entries[0].Params["format"] != "dot" {
		t.Errorf("entry = %+v", entries[0])
	}
}
