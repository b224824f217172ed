// Package visualization renders lattice occupancy and trajectories in
// various output formats.
package visualization

import (
	"fmt"
	"strings"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

// Format specifies the output format for rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
	FormatPNG  Format = "png"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatDOT, FormatJSON, FormatPNG:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (valid: dot, json, png)", s)
	}
}

// phenotypeColors maps the dominant phenotype of a site to a DOT color.
var phenotypeColors = [model.NumPhenotypes]string{
	model.NonResistant: "lightsteelblue",
	model.ResistantA:   "tomato",
	model.ResistantB:   "goldenrod",
	model.ResistantAB:  "mediumorchid",
}

// coordinator is implemented by lattices that know where their sites sit.
type coordinator interface {
	Coord(site int) (row, col int)
}

// RenderDOT produces an undirected Graphviz DOT graph of the lattice with
// each site colored by its dominant phenotype. Grid lattices get pinned
// positions for neato.
func RenderDOT(g lattice.Graph, snap population.Snapshot) (string, error) {
	if snap.Len() != g.Len() {
		return "", fmt.Errorf("snapshot has %d sites, lattice has %d", snap.Len(), g.Len())
	}
	coords, _ := g.(coordinator)

	var b strings.Builder
	b.WriteString("graph lattice {\n")
	b.WriteString("  layout=neato;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\", fontsize=10];\n\n")

	for site := range g.Len() {
		counts := snap.Cells[site]
		label := fmt.Sprintf("%s\\nNR %d  A %d  B %d  AB %d\\n%d/%d  drug %.1f/%.1f",
			siteName(coords, site),
			counts[model.NonResistant], counts[model.ResistantA], counts[model.ResistantB], counts[model.ResistantAB],
			snap.Occupancy(site), g.Capacity(site),
			snap.Drug[site][model.DrugA], snap.Drug[site][model.DrugB])

		attrs := fmt.Sprintf("label=\"%s\", fillcolor=%q", label, siteColor(snap, site))
		if coords != nil {
			row, col := coords.Coord(site)
			attrs += fmt.Sprintf(", pos=\"%d,%d!\"", 2*col, -2*row)
		}
		fmt.Fprintf(&b, "  s%d [%s];\n", site, attrs)
	}
	b.WriteString("\n")

	for _, e := range Edges(g) {
		fmt.Fprintf(&b, "  s%d -- s%d;\n", e[0], e[1])
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// RenderJSON produces a JSON-ready description of the lattice with per-site
// populations and its undirected edges.
func RenderJSON(g lattice.Graph, snap population.Snapshot) (map[string]interface{}, error) {
	if snap.Len() != g.Len() {
		return nil, fmt.Errorf("snapshot has %d sites, lattice has %d", snap.Len(), g.Len())
	}
	coords, _ := g.(coordinator)

	sites := make([]map[string]interface{}, 0, g.Len())
	for site := range g.Len() {
		entry := map[string]interface{}{
			"site":      site,
			"capacity":  g.Capacity(site),
			"occupancy": snap.Occupancy(site),
		}
		if p, ok := dominant(snap, site); ok {
			entry["dominant"] = p.String()
		}
		cells := make(map[string]int, model.NumPhenotypes)
		for _, p := range model.AllPhenotypes {
			cells[p.String()] = snap.Cells[site][p]
		}
		entry["cells"] = cells
		drug := make(map[string]float64, model.NumDrugKinds)
		for _, d := range model.AllDrugKinds {
			drug[d.String()] = snap.Drug[site][d]
		}
		entry["drug"] = drug
		if coords != nil {
			row, col := coords.Coord(site)
			entry["row"], entry["col"] = row, col
		}
		sites = append(sites, entry)
	}

	edges := Edges(g)
	if edges == nil {
		edges = [][2]int{}
	}

	return map[string]interface{}{
		"sites":           sites,
		"edges":           edges,
		"site_count":      len(sites),
		"edge_count":      len(edges),
		"total_cells":     snap.TotalCells(),
		"resistant_share": snap.ResistantShare(),
	}, nil
}

// Edges returns each undirected neighbor pair once, lower site first.
func Edges(g lattice.Graph) [][2]int {
	seen := make(map[[2]int]bool)
	var out [][2]int
	for site := range g.Len() {
		for _, n := range g.Neighbors(site) {
			e := [2]int{min(site, n), max(site, n)}
			if e[0] == e[1] || seen[e] {
				continue
			}
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// dominant returns the most numerous phenotype at site. Ties go to the
// phenotype listed first; ok is false for an empty site.
func dominant(snap population.Snapshot, site int) (p model.Phenotype, ok bool) {
	bestN := 0
	for _, ph := range model.AllPhenotypes {
		if n := snap.Cells[site][ph]; n > bestN {
			p, bestN = ph, n
		}
	}
	return p, bestN > 0
}

func siteColor(snap population.Snapshot, site int) string {
	p, ok := dominant(snap, site)
	if !ok {
		return "white"
	}
	return phenotypeColors[p]
}

func siteName(c coordinator, site int) string {
	if c == nil {
		return fmt.Sprintf("site %d", site)
	}
	row, col := c.Coord(site)
	return fmt.Sprintf("(%d,%d)", row, col)
}
