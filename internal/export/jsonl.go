package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/nvandessel/resistsim/internal/model"
)

// SampleLine is one JSONL record: a sample with per-phenotype totals and
// the full per-site snapshot.
type SampleLine struct {
	RunID          string                     `json:"run_id"`
	Seq            int                        `json:"seq"`
	Time           float64                    `json:"time"`
	Events         int64                      `json:"events"`
	Status         string                     `json:"status"`
	TotalCells     int                        `json:"total_cells"`
	ResistantShare float64                    `json:"resistant_share"`
	Phenotypes     map[string]int             `json:"phenotypes"`
	Drug           map[string]float64         `json:"drug"`
	Sites          [][model.NumPhenotypes]int `json:"sites"`
}

// WriteJSONL writes one line per sample.
func WriteJSONL(w io.Writer, trajectories ...Trajectory) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, t := range trajectories {
		for seq, smp := range t.Samples {
			snap := smp.Snapshot
			line := SampleLine{
				RunID:          t.RunID,
				Seq:            seq,
				Time:           smp.Time,
				Events:         smp.Events,
				Status:         smp.Status.String(),
				TotalCells:     snap.TotalCells(),
				ResistantShare: snap.ResistantShare(),
				Phenotypes:     make(map[string]int, model.NumPhenotypes),
				Drug:           make(map[string]float64, model.NumDrugKinds),
				Sites:          snap.Cells,
			}
			for _, p := range model.AllPhenotypes {
				line.Phenotypes[p.String()] = snap.TotalCellsOf(p)
			}
			for _, d := range model.AllDrugKinds {
				line.Drug[d.String()] = snap.TotalDrug(d)
			}
			if err := enc.Encode(line); err != nil {
				return fmt.Errorf("encoding sample %d of run %s: %w", seq, t.RunID, err)
			}
		}
	}
	return bw.Flush()
}
