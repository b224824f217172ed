// Package lattice provides the site graph the simulation runs on: an ordered
// set of sites, each with a fixed capacity and a fixed neighbor list.
package lattice

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidGeometry is returned when a lattice cannot be constructed from
// the supplied dimensions.
var ErrInvalidGeometry = errors.New("invalid lattice geometry")

// Graph is the read-only view of the lattice consumed by the engine.
// Sites are identified by their index in [0, Len()).
type Graph interface {
	Len() int
	Capacity(site int) int
	Neighbors(site int) []int
}

// Neighborhood selects which cells count as adjacent on a grid.
type Neighborhood string

const (
	NeighborhoodVonNeumann Neighborhood = "von-neumann" // 4 orthogonal neighbors
	NeighborhoodMoore      Neighborhood = "moore"       // 8 neighbors including diagonals
)

// ParseNeighborhood maps a config string to a Neighborhood. Empty means von Neumann.
func ParseNeighborhood(s string) (Neighborhood, error) {
	switch Neighborhood(strings.ToLower(strings.TrimSpace(s))) {
	case "", NeighborhoodVonNeumann:
		return NeighborhoodVonNeumann, nil
	case NeighborhoodMoore:
		return NeighborhoodMoore, nil
	default:
		return "", fmt.Errorf("%w: unknown neighborhood %q (valid: von-neumann, moore)", ErrInvalidGeometry, s)
	}
}

// GridOptions describes a rectangular lattice.
type GridOptions struct {
	Rows         int
	Cols         int
	Capacity     int
	Neighborhood Neighborhood
	Periodic     bool // wrap edges into a torus
}

// Grid is a rectangular lattice with uniform site capacity. Sites are
// numbered row-major. A Grid is immutable after construction.
type Grid struct {
	rows      int
	cols      int
	capacity  []int
	neighbors [][]int
	opts      GridOptions
}

var (
	vonNeumannOffsets = [][2]int{{-1, 0}, {0, -1}, {0, 1}, {1, 0}}
	mooreOffsets      = [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
)

// NewGrid builds a grid lattice and precomputes every neighbor list.
func NewGrid(opts GridOptions) (*Grid, error) {
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrInvalidGeometry, opts.Rows, opts.Cols)
	}
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidGeometry, opts.Capacity)
	}
	nh, err := ParseNeighborhood(string(opts.Neighborhood))
	if err != nil {
		return nil, err
	}
	opts.Neighborhood = nh

	offsets := vonNeumannOffsets
	if nh == NeighborhoodMoore {
		offsets = mooreOffsets
	}

	n := opts.Rows * opts.Cols
	g := &Grid{
		rows:      opts.Rows,
		cols:      opts.Cols,
		capacity:  make([]int, n),
		neighbors: make([][]int, n),
		opts:      opts,
	}
	for site := 0; site < n; site++ {
		g.capacity[site] = opts.Capacity
		r, c := site/opts.Cols, site%opts.Cols
		seen := make(map[int]bool, len(offsets))
		for _, off := range offsets {
			nr, nc := r+off[0], c+off[1]
			if opts.Periodic {
				nr = (nr + opts.Rows) % opts.Rows
				nc = (nc + opts.Cols) % opts.Cols
			} else if nr < 0 || nr >= opts.Rows || nc < 0 || nc >= opts.Cols {
				continue
			}
			nb := nr*opts.Cols + nc
			// Small periodic grids can map two offsets onto the same site.
			if nb == site || seen[nb] {
				continue
			}
			seen[nb] = true
			g.neighbors[site] = append(g.neighbors[site], nb)
		}
	}
	return g, nil
}

// Len returns the number of sites.
func (g *Grid) Len() int { return len(g.capacity) }

// Capacity returns the maximum number of cells site can hold.
func (g *Grid) Capacity(site int) int { return g.capacity[site] }

// Neighbors returns the fixed neighbor list of site. The slice must not be modified.
func (g *Grid) Neighbors(site int) []int { return g.neighbors[site] }

// Rows returns the number of grid rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of grid columns.
func (g *Grid) Cols() int { return g.cols }

// Options returns the options the grid was built from, with defaults applied.
func (g *Grid) Options() GridOptions { return g.opts }

// Coord returns the row and column of site.
func (g *Grid) Coord(site int) (row, col int) {
	return site / g.cols, site % g.cols
}

// Site returns the index of the site at (row, col).
func (g *Grid) Site(row, col int) int {
	return row*g.cols + col
}

// TotalCapacity sums the capacity of every site in g.
func TotalCapacity(g Graph) int {
	total := 0
	for s := 0; s < g.Len(); s++ {
		total += g.Capacity(s)
	}
	return total
}
