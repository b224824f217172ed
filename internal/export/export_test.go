package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

func testTrajectory(runID string, samples int) Trajectory {
	t := Trajectory{RunID: runID}
	for i := 0; i < samples; i++ {
		snap := population.Snapshot{
			Cells:    make([][model.NumPhenotypes]int, 3),
			Drug:     make([][model.NumDrugKinds]float64, 3),
			Capacity: []int{10, 10, 10},
		}
		snap.Cells[0][model.NonResistant] = 5 - i
		snap.Cells[2][model.ResistantAB] = i
		snap.Drug[1][model.DrugA] = 1.5 * float64(i)
		status := engine.Running
		if i == samples-1 {
			status = engine.HorizonReached
		}
		t.Samples = append(t.Samples, engine.Sample{Time: float64(i), Events: int64(10 * i), Status: status, Snapshot: snap})
	}
	return t
}

func TestRows(t *testing.T) {
	rows := Rows(testTrajectory("r", 2))
	if len(rows) != 6 {
		t.Fatalf("Rows() = %d rows, want 6 (2 samples x 3 sites)", len(rows))
	}
	last := rows[5]
	if last.Seq != 1 || last.Site != 2 || last.ResistantAB != 1 || last.Status != "horizon_reached" {
		t.Errorf("last row = %+v", last)
	}
	if rows[4].DrugA != 1.5 {
		t.Errorf("row 4 DrugA = %v, want 1.5", rows[4].DrugA)
	}
}

func TestArrowRoundTrip(t *testing.T) {
	a, b := testTrajectory("run-a", 3), testTrajectory("run-b", 2)

	f, err := os.Create(filepath.Join(t.TempDir(), "runs.arrow"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := WriteArrow(f, a, b); err != nil {
		t.Fatalf("WriteArrow() error = %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}

	got, err := ReadArrow(f)
	if err != nil {
		t.Fatalf("ReadArrow() error = %v", err)
	}
	want := append(Rows(a), Rows(b)...)
	if len(got) != len(want) {
		t.Fatalf("read %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestArrowSpansRecordBatches(t *testing.T) {
	// 1400 samples x 3 sites crosses the batch size.
	tr := testTrajectory("big", 1400)

	path := filepath.Join(t.TempDir(), "big.arrow")
	if err := WriteArrowFile(path, tr); err != nil {
		t.Fatalf("WriteArrowFile() error = %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := ReadArrow(f)
	if err != nil {
		t.Fatalf("ReadArrow() error = %v", err)
	}
	if len(got) != 4200 {
		t.Fatalf("read %d rows, want 4200", len(got))
	}
	if got[4199].Seq != 1399 || got[4199].Site != 2 {
		t.Errorf("last row = %+v", got[4199])
	}
}

func TestWriteJSONL(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, testTrajectory("r1", 3)); err != nil {
		t.Fatalf("WriteJSONL() error = %v", err)
	}

	var lines []SampleLine
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line SampleLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("invalid JSONL line %q: %v", sc.Text(), err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	last := lines[2]
	if last.RunID != "r1" || last.Seq != 2 || last.Status != "horizon_reached" {
		t.Errorf("last line = %+v", last)
	}
	if last.TotalCells != 5 || last.Phenotypes["resistant-ab"] != 2 || last.Phenotypes["non-resistant"] != 3 {
		t.Errorf("last line counts = %d %v", last.TotalCells, last.Phenotypes)
	}
	if last.ResistantShare != 0.4 {
		t.Errorf("resistant share = %v, want 0.4", last.ResistantShare)
	}
	if last.Drug["A"] != 3 {
		t.Errorf("drug A = %v, want 3", last.Drug["A"])
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"arrow", "jsonl"} {
		if f, err := ParseFormat(s); err != nil || string(f) != s {
			t.Errorf("ParseFormat(%q) = (%v, %v)", s, f, err)
		}
	}
	if _, err := ParseFormat("csv"); err == nil {
		t.Error("ParseFormat accepted csv")
	}
}
