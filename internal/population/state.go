// Package population holds the mutable simulation state: per-site cell
// counts keyed by phenotype and per-site drug quantities keyed by drug kind.
//
// A State is owned by exactly one scheduler and is not safe for concurrent
// use. Every mutation is checked against the site capacity and against
// non-negativity; a failed mutation leaves the state untouched.
package population

import (
	"errors"
	"fmt"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
)

var (
	// ErrCapacityViolation is returned when a cell increment would push a
	// site's occupancy above its capacity.
	ErrCapacityViolation = errors.New("capacity violation")

	// ErrNegativeQuantity is returned when a decrement would drive a count or
	// quantity below zero.
	ErrNegativeQuantity = errors.New("negative quantity")
)

// State is the per-site population of cells and drug.
type State struct {
	graph     lattice.Graph
	cells     [][model.NumPhenotypes]int
	drug      [][model.NumDrugKinds]float64
	occupancy []int
}

// New returns an empty state sized to g.
func New(g lattice.Graph) *State {
	n := g.Len()
	return &State{
		graph:     g,
		cells:     make([][model.NumPhenotypes]int, n),
		drug:      make([][model.NumDrugKinds]float64, n),
		occupancy: make([]int, n),
	}
}

// Graph returns the lattice the state is laid out on.
func (s *State) Graph() lattice.Graph { return s.graph }

// Len returns the number of sites.
func (s *State) Len() int { return len(s.cells) }

// Capacity returns the cell capacity of site.
func (s *State) Capacity(site int) int { return s.graph.Capacity(site) }

// CellCount returns the number of cells of phenotype p at site.
func (s *State) CellCount(site int, p model.Phenotype) int {
	return s.cells[site][p]
}

// DrugQuantity returns the quantity of drug d at site.
func (s *State) DrugQuantity(site int, d model.DrugKind) float64 {
	return s.drug[site][d]
}

// Occupancy returns the total number of cells at site.
func (s *State) Occupancy(site int) int {
	return s.occupancy[site]
}

// SpareCapacity returns how many more cells site can hold.
func (s *State) SpareCapacity(site int) int {
	return s.graph.Capacity(site) - s.occupancy[site]
}

// ApplyDelta changes the count of phenotype p at site by delta.
func (s *State) ApplyDelta(site int, p model.Phenotype, delta int) error {
	if !p.Valid() {
		return fmt.Errorf("apply delta: invalid phenotype %d", int(p))
	}
	next := s.cells[site][p] + delta
	if next < 0 {
		return fmt.Errorf("%w: site %d %s count %d%+d", ErrNegativeQuantity, site, p, s.cells[site][p], delta)
	}
	occ := s.occupancy[site] + delta
	if delta > 0 && occ > s.graph.Capacity(site) {
		return fmt.Errorf("%w: site %d occupancy %d%+d exceeds capacity %d",
			ErrCapacityViolation, site, s.occupancy[site], delta, s.graph.Capacity(site))
	}
	s.cells[site][p] = next
	s.occupancy[site] = occ
	return nil
}

// ApplyDrugDelta changes the quantity of drug d at site by delta.
func (s *State) ApplyDrugDelta(site int, d model.DrugKind, delta float64) error {
	if !d.Valid() {
		return fmt.Errorf("apply drug delta: invalid drug kind %d", int(d))
	}
	next := s.drug[site][d] + delta
	if next < 0 {
		return fmt.Errorf("%w: site %d drug %s quantity %g%+g", ErrNegativeQuantity, site, d, s.drug[site][d], delta)
	}
	s.drug[site][d] = next
	return nil
}

// TotalCells returns the number of cells on the whole lattice.
func (s *State) TotalCells() int {
	total := 0
	for _, occ := range s.occupancy {
		total += occ
	}
	return total
}

// TotalCellsOf returns the number of cells of phenotype p on the whole lattice.
func (s *State) TotalCellsOf(p model.Phenotype) int {
	total := 0
	for i := range s.cells {
		total += s.cells[i][p]
	}
	return total
}

// TotalDrug returns the quantity of drug d on the whole lattice.
func (s *State) TotalDrug(d model.DrugKind) float64 {
	total := 0.0
	for i := range s.drug {
		total += s.drug[i][d]
	}
	return total
}

// Snapshot returns a deep copy of the state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Cells:    make([][model.NumPhenotypes]int, len(s.cells)),
		Drug:     make([][model.NumDrugKinds]float64, len(s.drug)),
		Capacity: make([]int, len(s.cells)),
	}
	copy(snap.Cells, s.cells)
	copy(snap.Drug, s.drug)
	for i := range snap.Capacity {
		snap.Capacity[i] = s.graph.Capacity(i)
	}
	return snap
}

// Restore replaces the state's contents with snap. The snapshot must match
// the lattice size and satisfy the capacity and non-negativity invariants.
func (s *State) Restore(snap Snapshot) error {
	if len(snap.Cells) != len(s.cells) || len(snap.Drug) != len(s.drug) {
		return fmt.Errorf("restore: snapshot has %d sites, lattice has %d", len(snap.Cells), len(s.cells))
	}
	for i := range snap.Cells {
		occ := 0
		for _, p := range model.AllPhenotypes {
			if snap.Cells[i][p] < 0 {
				return fmt.Errorf("restore: %w: site %d %s", ErrNegativeQuantity, i, p)
			}
			occ += snap.Cells[i][p]
		}
		if occ > s.graph.Capacity(i) {
			return fmt.Errorf("restore: %w: site %d holds %d, capacity %d", ErrCapacityViolation, i, occ, s.graph.Capacity(i))
		}
		for _, d := range model.AllDrugKinds {
			if snap.Drug[i][d] < 0 {
				return fmt.Errorf("restore: %w: site %d drug %s", ErrNegativeQuantity, i, d)
			}
		}
	}
	copy(s.cells, snap.Cells)
	copy(s.drug, snap.Drug)
	for i := range s.cells {
		occ := 0
		for _, c := range s.cells[i] {
			occ += c
		}
		s.occupancy[i] = occ
	}
	return nil
}
