// Package export writes recorded trajectories in formats other tools can
// load: Arrow IPC files for dataframe libraries and JSONL for line tools.
package export

import (
	"fmt"

	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/model"
)

// Format names an export encoding.
type Format string

const (
	FormatArrow Format = "arrow"
	FormatJSONL Format = "jsonl"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatArrow, FormatJSONL:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown export format %q (valid: arrow, jsonl)", s)
	}
}

// Trajectory is the recorded samples of one run.
type Trajectory struct {
	RunID   string
	Samples []engine.Sample
}

// Row is one site of one sample, the long-format unit both encoders share.
type Row struct {
	RunID        string  `json:"run_id"`
	Seq          int64   `json:"seq"`
	Time         float64 `json:"time"`
	Events       int64   `json:"events"`
	Status       string  `json:"status"`
	Site         int32   `json:"site"`
	Capacity     int32   `json:"capacity"`
	NonResistant int64   `json:"non_resistant"`
	ResistantA   int64   `json:"resistant_a"`
	ResistantB   int64   `json:"resistant_b"`
	ResistantAB  int64   `json:"resistant_ab"`
	DrugA        float64 `json:"drug_a"`
	DrugB        float64 `json:"drug_b"`
}

// Rows flattens t into site rows, sample by sample.
func Rows(t Trajectory) []Row {
	var rows []Row
	for seq, smp := range t.Samples {
		snap := smp.Snapshot
		for site := range snap.Cells {
			c := snap.Cells[site]
			d := snap.Drug[site]
			rows = append(rows, Row{
				RunID:        t.RunID,
				Seq:          int64(seq),
				Time:         smp.Time,
				Events:       smp.Events,
				Status:       smp.Status.String(),
				Site:         int32(site),
				Capacity:     int32(snap.Capacity[site]),
				NonResistant: int64(c[model.NonResistant]),
				ResistantA:   int64(c[model.ResistantA]),
				ResistantB:   int64(c[model.ResistantB]),
				ResistantAB:  int64(c[model.ResistantAB]),
				DrugA:        d[model.DrugA],
				DrugB:        d[model.DrugB],
			})
		}
	}
	return rows
}
