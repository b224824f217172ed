package population

import (
	"fmt"

	"github.com/nvandessel/resistsim/internal/model"
)

// Snapshot is an immutable copy of a State, safe to hand to collectors,
// stores and exporters.
type Snapshot struct {
	Cells    [][model.NumPhenotypes]int    `json:"cells"`
	Drug     [][model.NumDrugKinds]float64 `json:"drug"`
	Capacity []int                         `json:"capacity"`
}

// Len returns the number of sites in the snapshot.
func (s Snapshot) Len() int { return len(s.Cells) }

// Occupancy returns the number of cells at site.
func (s Snapshot) Occupancy(site int) int {
	occ := 0
	for _, c := range s.Cells[site] {
		occ += c
	}
	return occ
}

// TotalCells returns the number of cells on the lattice.
func (s Snapshot) TotalCells() int {
	total := 0
	for i := range s.Cells {
		total += s.Occupancy(i)
	}
	return total
}

// TotalCellsOf returns the lattice-wide count of phenotype p.
func (s Snapshot) TotalCellsOf(p model.Phenotype) int {
	total := 0
	for i := range s.Cells {
		total += s.Cells[i][p]
	}
	return total
}

// TotalDrug returns the lattice-wide quantity of drug d.
func (s Snapshot) TotalDrug(d model.DrugKind) float64 {
	total := 0.0
	for i := range s.Drug {
		total += s.Drug[i][d]
	}
	return total
}

// ResistantCells returns the number of cells resisting at least one drug.
func (s Snapshot) ResistantCells() int {
	total := 0
	for _, p := range model.AllPhenotypes {
		if p.Resistant() {
			total += s.TotalCellsOf(p)
		}
	}
	return total
}

// ResistantShare returns the fraction of cells that resist at least one drug.
// An empty lattice has share 0.
func (s Snapshot) ResistantShare() float64 {
	total := s.TotalCells()
	if total == 0 {
		return 0
	}
	return float64(s.ResistantCells()) / float64(total)
}

// Validate checks the capacity and non-negativity invariants.
func (s Snapshot) Validate() error {
	if len(s.Drug) != len(s.Cells) || len(s.Capacity) != len(s.Cells) {
		return fmt.Errorf("snapshot: mismatched site counts (cells=%d drug=%d capacity=%d)",
			len(s.Cells), len(s.Drug), len(s.Capacity))
	}
	for i := range s.Cells {
		for _, p := range model.AllPhenotypes {
			if s.Cells[i][p] < 0 {
				return fmt.Errorf("snapshot: %w: site %d %s = %d", ErrNegativeQuantity, i, p, s.Cells[i][p])
			}
		}
		for _, d := range model.AllDrugKinds {
			if s.Drug[i][d] < 0 {
				return fmt.Errorf("snapshot: %w: site %d drug %s = %g", ErrNegativeQuantity, i, d, s.Drug[i][d])
			}
		}
		if occ := s.Occupancy(i); occ > s.Capacity[i] {
			return fmt.Errorf("snapshot: %w: site %d holds %d, capacity %d", ErrCapacityViolation, i, occ, s.Capacity[i])
		}
	}
	return nil
}

// Equal reports whether two snapshots hold identical counts and quantities.
func (s Snapshot) Equal(o Snapshot) bool {
	if len(s.Cells) != len(o.Cells) || len(s.Drug) != len(o.Drug) {
		return false
	}
	for i := range s.Cells {
		if s.Cells[i] != o.Cells[i] || s.Drug[i] != o.Drug[i] {
			return false
		}
	}
	return true
}
