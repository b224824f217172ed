package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

func testState(t *testing.T) *population.State {
	t.Helper()
	g, err := lattice.NewGrid(lattice.GridOptions{Rows: 2, Cols: 2, Capacity: 10})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	s := population.New(g)
	if err := s.ApplyDelta(0, model.NonResistant, 6); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyDelta(3, model.ResistantAB, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyDrugDelta(1, model.DrugB, 4.5); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestWriteRead(t *testing.T) {
	s := testState(t)
	path := filepath.Join(t.TempDir(), "sub", "run.ckpt")

	in := &Checkpoint{RunID: "r1", Seed: 42, Time: 12.5, Events: 300, Status: "horizon_reached", Snapshot: s.Snapshot()}
	if err := Write(path, in); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	out, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if out.Version != FormatVersion || out.RunID != "r1" || out.Seed != 42 || out.Time != 12.5 || out.Events != 300 {
		t.Errorf("Read() = %+v", out)
	}
	if !out.Snapshot.Equal(s.Snapshot()) {
		t.Error("snapshot changed across write/read")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestReadHeader(t *testing.T) {
	s := testState(t)
	path := filepath.Join(t.TempDir(), "run.ckpt")
	if err := Write(path, &Checkpoint{Time: 3, Snapshot: s.Snapshot()}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	if h.Sites != 4 || h.Cells != 8 || h.Time != 3 || !h.Compressed {
		t.Errorf("ReadHeader() = %+v", h)
	}
	if err := Verify(path); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestRead_DetectsCorruption(t *testing.T) {
	s := testState(t)
	path := filepath.Join(t.TempDir(), "run.ckpt")
	if err := Write(path, &Checkpoint{Snapshot: s.Snapshot()}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-5] ^= 0xff
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	if err := Verify(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Verify() error = %v, want ErrChecksumMismatch", err)
	}
	if _, err := Read(path); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Read() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestWrite_RejectsInvalidPopulation(t *testing.T) {
	snap := testState(t).Snapshot()
	snap.Cells[0][model.NonResistant] = 50
	if err := Write(filepath.Join(t.TempDir(), "bad.ckpt"), &Checkpoint{Snapshot: snap}); err == nil {
		t.Error("Write() accepted a population over capacity")
	}
}

func TestRestore(t *testing.T) {
	s := testState(t)
	path := filepath.Join(t.TempDir(), "run.ckpt")
	if err := Write(path, &Checkpoint{Snapshot: s.Snapshot()}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	c, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	fresh := population.New(s.Graph())
	if err := c.Restore(fresh); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if !fresh.Snapshot().Equal(s.Snapshot()) {
		t.Error("restored state differs from the saved one")
	}
}

func TestReadHeader_RejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.json")
	if err := os.WriteFile(path, []byte("{\"version\": 9}\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadHeader(path); err == nil {
		t.Error("ReadHeader() accepted an unknown version")
	}
}
