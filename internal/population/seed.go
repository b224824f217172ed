package population

import (
	"fmt"
	"strings"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
)

// Placement is the policy used to distribute the initial cells and drug.
type Placement string

const (
	// PlacementUniform splits evenly across sites; leftovers go to the
	// lowest-index sites that still have room.
	PlacementUniform Placement = "uniform"

	// PlacementProportional splits in proportion to each site's capacity.
	PlacementProportional Placement = "proportional"

	// PlacementLocalized fills the seed site first and spills outward
	// breadth-first through the neighbor graph. Drug is placed on the seed site.
	PlacementLocalized Placement = "localized"
)

// ParsePlacement maps a config string to a Placement. Empty means uniform.
func ParsePlacement(s string) (Placement, error) {
	switch Placement(strings.ToLower(strings.TrimSpace(s))) {
	case "", PlacementUniform:
		return PlacementUniform, nil
	case PlacementProportional:
		return PlacementProportional, nil
	case PlacementLocalized:
		return PlacementLocalized, nil
	default:
		return "", fmt.Errorf("unknown placement %q (valid: uniform, proportional, localized)", s)
	}
}

// InitialConditions describes what is placed on the lattice before the
// first event.
type InitialConditions struct {
	Cells    int                         // non-resistant cells
	Drug     [model.NumDrugKinds]float64 // quantity of each drug kind
	SeedSite int                         // origin for PlacementLocalized
}

// Seed places the initial non-resistant cells and drug on s according to
// policy. It returns ErrCapacityViolation if the lattice cannot hold the
// requested cells. Existing contents are added to, not replaced.
func Seed(s *State, policy Placement, ic InitialConditions) error {
	if ic.Cells < 0 {
		return fmt.Errorf("seed: %w: initial cells %d", ErrNegativeQuantity, ic.Cells)
	}
	for _, d := range model.AllDrugKinds {
		if ic.Drug[d] < 0 {
			return fmt.Errorf("seed: %w: initial drug %s %g", ErrNegativeQuantity, d, ic.Drug[d])
		}
	}
	n := s.Len()
	if n == 0 {
		return fmt.Errorf("seed: empty lattice")
	}
	if ic.SeedSite < 0 || ic.SeedSite >= n {
		return fmt.Errorf("seed: seed site %d outside lattice of %d sites", ic.SeedSite, n)
	}

	spare := 0
	for site := 0; site < n; site++ {
		spare += s.SpareCapacity(site)
	}
	if ic.Cells > spare {
		return fmt.Errorf("seed: %w: %d cells requested, lattice has room for %d", ErrCapacityViolation, ic.Cells, spare)
	}

	var cells []int
	var drugShare []float64
	switch policy {
	case PlacementUniform, "":
		cells = uniformCells(s, ic.Cells)
		drugShare = uniformShare(n)
	case PlacementProportional:
		cells = proportionalCells(s, ic.Cells)
		drugShare = proportionalShare(s)
	case PlacementLocalized:
		cells = localizedCells(s, ic.Cells, ic.SeedSite)
		drugShare = make([]float64, n)
		drugShare[ic.SeedSite] = 1
	default:
		return fmt.Errorf("seed: unknown placement %q", policy)
	}

	for site, c := range cells {
		if c == 0 {
			continue
		}
		if err := s.ApplyDelta(site, model.NonResistant, c); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	for _, d := range model.AllDrugKinds {
		if ic.Drug[d] == 0 {
			continue
		}
		for site, share := range drugShare {
			if share == 0 {
				continue
			}
			if err := s.ApplyDrugDelta(site, d, ic.Drug[d]*share); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
	}
	return nil
}

// uniformCells gives every site total/n cells, then hands out the remainder
// and any overflow from full sites in index order.
func uniformCells(s *State, total int) []int {
	n := s.Len()
	out := make([]int, n)
	base := total / n
	left := total
	for site := 0; site < n; site++ {
		c := min(base, s.SpareCapacity(site))
		out[site] = c
		left -= c
	}
	return spill(s, out, left)
}

func proportionalCells(s *State, total int) []int {
	n := s.Len()
	out := make([]int, n)
	capTotal := lattice.TotalCapacity(s.Graph())
	left := total
	for site := 0; site < n; site++ {
		c := total * s.Capacity(site) / capTotal
		c = min(c, s.SpareCapacity(site))
		out[site] = c
		left -= c
	}
	return spill(s, out, left)
}

// spill distributes left cells one at a time round-robin over sites with room.
func spill(s *State, out []int, left int) []int {
	for left > 0 {
		placed := false
		for site := range out {
			if left == 0 {
				break
			}
			if s.SpareCapacity(site)-out[site] > 0 {
				out[site]++
				left--
				placed = true
			}
		}
		if !placed {
			break
		}
	}
	return out
}

func localizedCells(s *State, total, origin int) []int {
	g := s.Graph()
	out := make([]int, s.Len())
	visited := make([]bool, s.Len())
	queue := []int{origin}
	visited[origin] = true
	left := total
	for len(queue) > 0 && left > 0 {
		site := queue[0]
		queue = queue[1:]
		c := min(left, s.SpareCapacity(site))
		out[site] = c
		left -= c
		for _, nb := range g.Neighbors(site) {
			if !visited[nb] {
				visited[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	// Disconnected lattices: fall back to index order for whatever is left.
	return spill(s, out, left)
}

func uniformShare(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func proportionalShare(s *State) []float64 {
	out := make([]float64, s.Len())
	capTotal := float64(lattice.TotalCapacity(s.Graph()))
	for i := range out {
		out[i] = float64(s.Capacity(i)) / capTotal
	}
	return out
}
