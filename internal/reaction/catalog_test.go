package reaction

import (
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

const eps = 1e-12

func testParams() Params {
	return Params{
		NonResistantBirth: 1.1,
		NonResistantDeath: 1.0,
		ResistantBirth:    1.05,
		ResistantDeath:    1.0,
		MutationRate:      0.001,
		MigrationRate:     0.1,
		DiffusionRate:     0.1,
		UptakeRate:        0.01,
		DecayRate:         0.05,
		DrugPotency:       0.02,
		DrugQuantum:       DefaultDrugQuantum,
	}
}

// setup builds a 1 x n line lattice, an empty state and a catalog.
func setup(t *testing.T, n, capacity int, params Params) (*lattice.Grid, *population.State, *Catalog) {
	t.Helper()
	g, err := lattice.NewGrid(lattice.GridOptions{Rows: 1, Cols: n, Capacity: capacity})
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	c, err := NewCatalog(g, params)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return g, population.New(g), c
}

func addCells(t *testing.T, s *population.State, site int, p model.Phenotype, n int) {
	t.Helper()
	if err := s.ApplyDelta(site, p, n); err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
}

func addDrug(t *testing.T, s *population.State, site int, d model.DrugKind, q float64) {
	t.Helper()
	if err := s.ApplyDrugDelta(site, d, q); err != nil {
		t.Fatalf("ApplyDrugDelta: %v", err)
	}
}

// collect returns every channel at site keyed by its String form.
func collect(c *Catalog, s *population.State, site int) map[string]float64 {
	out := make(map[string]float64)
	c.Enumerate(s, site, func(ch Channel, a float64) {
		out[ch.String()] += a
	})
	return out
}

func TestEnumerate_CellPropensities(t *testing.T) {
	_, s, c := setup(t, 2, 100, testParams())
	addCells(t, s, 0, model.NonResistant, 40)
	addCells(t, s, 0, model.ResistantA, 10)
	addDrug(t, s, 0, model.DrugA, 5)
	addDrug(t, s, 0, model.DrugB, 3)

	got := collect(c, s, 0)

	tests := []struct {
		channel string
		want    float64
	}{
		// birth: rate * count * (1 - 50/100)
		{"birth(site=0, non-resistant)", 1.1 * 40 * 0.5},
		{"birth(site=0, resistant-a)", 1.05 * 10 * 0.5},
		// death: rate * count * (1 + potency * unresisted drug)
		{"death(site=0, non-resistant)", 1.0 * 40 * (1 + 0.02*(5+3))},
		{"death(site=0, resistant-a)", 1.0 * 10 * (1 + 0.02*3)},
		// mutation: non-resistant branches equally
		{"mutation(site=0, non-resistant->resistant-a)", 0.001 * 40 / 2},
		{"mutation(site=0, non-resistant->resistant-b)", 0.001 * 40 / 2},
		{"mutation(site=0, resistant-a->resistant-ab)", 0.001 * 10},
		{"cell_migration(0->1, non-resistant)", 0.1 * 40},
		{"drug_diffusion(0->1, drug A)", 0.1 * 5},
		{"drug_uptake(site=0, drug A)", 0.01 * 5 * 50},
		{"drug_decay(site=0, drug B)", 0.05 * 3},
	}
	for _, tt := range tests {
		if math.Abs(got[tt.channel]-tt.want) > eps {
			t.Errorf("%s = %v, want %v", tt.channel, got[tt.channel], tt.want)
		}
	}
}

func TestEnumerate_FullSiteHasNoBirth(t *testing.T) {
	_, s, c := setup(t, 2, 10, testParams())
	addCells(t, s, 0, model.NonResistant, 10)

	c.Enumerate(s, 0, func(ch Channel, a float64) {
		if ch.Kind == Birth {
			t.Errorf("birth channel %v instantiated at full site with propensity %v", ch, a)
		}
	})
}

func TestEnumerate_MigrationSkipsFullNeighbor(t *testing.T) {
	_, s, c := setup(t, 3, 5, testParams())
	addCells(t, s, 1, model.ResistantB, 2)
	addCells(t, s, 2, model.NonResistant, 5)

	var targets []int
	c.Enumerate(s, 1, func(ch Channel, a float64) {
		if ch.Kind == CellMigration {
			targets = append(targets, ch.Target)
		}
	})
	if !slices.Equal(targets, []int{0}) {
		t.Errorf("migration targets = %v, want [0]", targets)
	}
}

func TestEnumerate_ResistantABNeverMutates(t *testing.T) {
	_, s, c := setup(t, 1, 10, testParams())
	addCells(t, s, 0, model.ResistantAB, 5)
	addDrug(t, s, 0, model.DrugA, 10)
	addDrug(t, s, 0, model.DrugB, 10)

	got := collect(c, s, 0)
	for name := range got {
		if strings.HasPrefix(name, "mutation") {
			t.Errorf("unexpected mutation channel %s", name)
		}
	}
	// Resistant to both drugs: hazard stays at 1.
	if want := 1.0 * 5; math.Abs(got["death(site=0, resistant-ab)"]-want) > eps {
		t.Errorf("death = %v, want %v", got["death(site=0, resistant-ab)"], want)
	}
}

func TestEnumerate_EmptySite(t *testing.T) {
	_, s, c := setup(t, 2, 10, testParams())
	if total := c.SiteTotal(s, 0); total != 0 {
		t.Errorf("SiteTotal of empty site = %v, want 0", total)
	}
	if _, ok := c.Select(s, 0, 0); ok {
		t.Error("Select on empty site should report no channel")
	}
}

func TestSiteTotalMatchesEnumeration(t *testing.T) {
	_, s, c := setup(t, 3, 50, testParams())
	addCells(t, s, 1, model.NonResistant, 20)
	addCells(t, s, 1, model.ResistantB, 7)
	addDrug(t, s, 1, model.DrugA, 4)

	sum := 0.0
	c.Enumerate(s, 1, func(_ Channel, a float64) { sum += a })
	if total := c.SiteTotal(s, 1); total != sum {
		t.Errorf("SiteTotal = %v, enumeration sum = %v", total, sum)
	}
}

func TestSelect(t *testing.T) {
	params := Params{NonResistantBirth: 1, NonResistantDeath: 1, DrugQuantum: 1}
	_, s, c := setup(t, 1, 10, params)
	addCells(t, s, 0, model.NonResistant, 5)
	// birth = 1*5*0.5 = 2.5, death = 5

	tests := []struct {
		u    float64
		want ChannelKind
	}{
		{0, Birth},
		{2.49, Birth},
		{2.5, Death},
		{7.4, Death},
		{7.5, Death}, // rounding guard: falls back to the last channel
	}
	for _, tt := range tests {
		ch, ok := c.Select(s, 0, tt.u)
		if !ok {
			t.Fatalf("Select(%v) found nothing", tt.u)
		}
		if ch.Kind != tt.want {
			t.Errorf("Select(%v) = %v, want %v", tt.u, ch.Kind, tt.want)
		}
	}
}

func TestApply_MigrationConservesCells(t *testing.T) {
	_, s, c := setup(t, 2, 10, testParams())
	addCells(t, s, 0, model.ResistantA, 3)
	before := s.TotalCells()

	ch := Channel{Kind: CellMigration, Site: 0, Target: 1, Phenotype: model.ResistantA}
	if err := c.Apply(s, ch); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if s.CellCount(0, model.ResistantA) != 2 || s.CellCount(1, model.ResistantA) != 1 {
		t.Errorf("counts = (%d, %d), want (2, 1)", s.CellCount(0, model.ResistantA), s.CellCount(1, model.ResistantA))
	}
	if s.TotalCells() != before {
		t.Errorf("TotalCells changed from %d to %d", before, s.TotalCells())
	}
}

func TestApply_DiffusionConservesDrug(t *testing.T) {
	_, s, c := setup(t, 2, 10, testParams())
	addDrug(t, s, 0, model.DrugB, 2.5)

	ch := Channel{Kind: DrugDiffusion, Site: 0, Target: 1, Drug: model.DrugB}
	for i := 0; i < 3; i++ {
		if err := c.Apply(s, ch); err != nil {
			t.Fatalf("Apply #%d: %v", i, err)
		}
		if total := s.TotalDrug(model.DrugB); math.Abs(total-2.5) > eps {
			t.Fatalf("TotalDrug = %v after %d diffusions, want 2.5", total, i+1)
		}
	}
	// Third event only had 0.5 left to move.
	if s.DrugQuantity(0, model.DrugB) != 0 || s.DrugQuantity(1, model.DrugB) != 2.5 {
		t.Errorf("quantities = (%v, %v), want (0, 2.5)", s.DrugQuantity(0, model.DrugB), s.DrugQuantity(1, model.DrugB))
	}
}

func TestApply_BirthDeathMutation(t *testing.T) {
	_, s, c := setup(t, 1, 3, testParams())
	addCells(t, s, 0, model.NonResistant, 2)

	steps := []Channel{
		{Kind: Birth, Site: 0, Phenotype: model.NonResistant},
		{Kind: Mutation, Site: 0, Phenotype: model.NonResistant, Into: model.ResistantB},
		{Kind: Death, Site: 0, Phenotype: model.NonResistant},
	}
	for _, ch := range steps {
		if err := c.Apply(s, ch); err != nil {
			t.Fatalf("Apply(%v): %v", ch, err)
		}
	}
	if s.CellCount(0, model.NonResistant) != 1 || s.CellCount(0, model.ResistantB) != 1 {
		t.Errorf("counts = (%d, %d), want (1, 1)", s.CellCount(0, model.NonResistant), s.CellCount(0, model.ResistantB))
	}
}

func TestApply_MutationAtFullSite(t *testing.T) {
	_, s, c := setup(t, 1, 2, testParams())
	addCells(t, s, 0, model.ResistantA, 2)
	ch := Channel{Kind: Mutation, Site: 0, Phenotype: model.ResistantA, Into: model.ResistantAB}
	if err := c.Apply(s, ch); err != nil {
		t.Fatalf("mutation at a full site should succeed: %v", err)
	}
}

func TestApply_UngatedEventSurfacesError(t *testing.T) {
	_, s, c := setup(t, 2, 1, testParams())
	addCells(t, s, 0, model.NonResistant, 1)
	addCells(t, s, 1, model.NonResistant, 1)

	err := c.Apply(s, Channel{Kind: Birth, Site: 0, Phenotype: model.NonResistant})
	if !errors.Is(err, population.ErrCapacityViolation) {
		t.Errorf("expected ErrCapacityViolation, got %v", err)
	}
	err = c.Apply(s, Channel{Kind: Death, Site: 0, Phenotype: model.ResistantA})
	if !errors.Is(err, population.ErrNegativeQuantity) {
		t.Errorf("expected ErrNegativeQuantity, got %v", err)
	}
}

func TestAffected(t *testing.T) {
	_, _, c := setup(t, 5, 10, testParams())

	tests := []struct {
		name string
		ch   Channel
		want []int
	}{
		{"birth", Channel{Kind: Birth, Site: 2}, []int{1, 2, 3}},
		{"migration", Channel{Kind: CellMigration, Site: 2, Target: 3}, []int{1, 2, 3, 4}},
		{"diffusion", Channel{Kind: DrugDiffusion, Site: 0, Target: 1}, []int{0, 1}},
		{"decay", Channel{Kind: DrugDecay, Site: 4}, []int{4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Affected(tt.ch); !slices.Equal(got, tt.want) {
				t.Errorf("Affected = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	if err := testParams().Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"negative birth", func(p *Params) { p.NonResistantBirth = -1 }},
		{"negative decay", func(p *Params) { p.DecayRate = -0.1 }},
		{"nan migration", func(p *Params) { p.MigrationRate = math.NaN() }},
		{"inf potency", func(p *Params) { p.DrugPotency = math.Inf(1) }},
		{"zero quantum", func(p *Params) { p.DrugQuantum = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("expected ErrInvalidParameter, got %v", err)
			}
			if _, err := NewCatalog(nil, p); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("NewCatalog: expected ErrInvalidParameter, got %v", err)
			}
		})
	}
}

func TestBirthDeathRateByClass(t *testing.T) {
	p := testParams()
	if p.BirthRate(model.NonResistant) != 1.1 || p.BirthRate(model.ResistantAB) != 1.05 {
		t.Error("BirthRate does not follow phenotype class")
	}
	if p.DeathRate(model.ResistantB) != 1.0 {
		t.Error("DeathRate does not follow phenotype class")
	}
}
