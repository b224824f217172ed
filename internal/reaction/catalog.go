// Package reaction is the catalog of reaction channels: it computes the
// propensity of every channel rooted at a site from the current population
// and applies the effect of a selected channel.
//
// Channels are derived, never stored. Enumeration order is fixed (phenotypes
// then drugs, in model order; neighbors in lattice order) so that the
// scheduler's selection is reproducible for a given random stream.
package reaction

import (
	"fmt"
	"slices"

	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
)

// ChannelKind tags the type of a reaction channel.
type ChannelKind int

const (
	Birth ChannelKind = iota
	Death
	Mutation
	CellMigration
	DrugDiffusion
	DrugUptake
	DrugDecay
)

// NumChannelKinds is the number of channel kinds.
const NumChannelKinds = 7

var channelNames = [NumChannelKinds]string{
	Birth:         "birth",
	Death:         "death",
	Mutation:      "mutation",
	CellMigration: "cell_migration",
	DrugDiffusion: "drug_diffusion",
	DrugUptake:    "drug_uptake",
	DrugDecay:     "drug_decay",
}

func (k ChannelKind) String() string {
	if k < 0 || int(k) >= NumChannelKinds {
		return fmt.Sprintf("ChannelKind(%d)", int(k))
	}
	return channelNames[k]
}

// IsCell reports whether channels of kind k change cell counts.
func (k ChannelKind) IsCell() bool {
	return k <= CellMigration
}

// Channel is one concrete reaction. Target is only meaningful for migration
// and diffusion, Into only for mutation, Drug only for drug channels.
type Channel struct {
	Kind      ChannelKind
	Site      int
	Target    int
	Phenotype model.Phenotype
	Into      model.Phenotype
	Drug      model.DrugKind
}

func (c Channel) String() string {
	switch c.Kind {
	case Mutation:
		return fmt.Sprintf("%s(site=%d, %s->%s)", c.Kind, c.Site, c.Phenotype, c.Into)
	case CellMigration:
		return fmt.Sprintf("%s(%d->%d, %s)", c.Kind, c.Site, c.Target, c.Phenotype)
	case DrugDiffusion:
		return fmt.Sprintf("%s(%d->%d, drug %s)", c.Kind, c.Site, c.Target, c.Drug)
	case DrugUptake, DrugDecay:
		return fmt.Sprintf("%s(site=%d, drug %s)", c.Kind, c.Site, c.Drug)
	default:
		return fmt.Sprintf("%s(site=%d, %s)", c.Kind, c.Site, c.Phenotype)
	}
}

// Catalog evaluates propensities and applies effects for a fixed lattice and
// parameter set. A Catalog holds no mutable state.
type Catalog struct {
	graph  lattice.Graph
	params Params
}

// NewCatalog validates params and returns a catalog over g.
func NewCatalog(g lattice.Graph, params Params) (*Catalog, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Catalog{graph: g, params: params}, nil
}

// Params returns the catalog's rate constants.
func (c *Catalog) Params() Params { return c.params }

// Graph returns the catalog's lattice.
func (c *Catalog) Graph() lattice.Graph { return c.graph }

// DrugHazard is the multiplier applied to the base death rate of phenotype p
// at site: 1 plus potency times the quantity of every drug p does not resist.
func (c *Catalog) DrugHazard(s *population.State, site int, p model.Phenotype) float64 {
	h := 1.0
	for _, d := range model.AllDrugKinds {
		if !p.ResistantTo(d) {
			h += c.params.DrugPotency * s.DrugQuantity(site, d)
		}
	}
	return h
}

// Enumerate calls fn for every channel rooted at site with a positive
// propensity, in the catalog's fixed order.
func (c *Catalog) Enumerate(s *population.State, site int, fn func(Channel, float64)) {
	p := c.params
	occ := s.Occupancy(site)
	capacity := s.Capacity(site)
	neighbors := c.graph.Neighbors(site)

	for _, ph := range model.AllPhenotypes {
		n := s.CellCount(site, ph)
		if n == 0 {
			continue
		}
		count := float64(n)

		// Birth at full occupancy has no channel, so capacity is never exceeded.
		if occ < capacity {
			if a := p.BirthRate(ph) * count * (1 - float64(occ)/float64(capacity)); a > 0 {
				fn(Channel{Kind: Birth, Site: site, Phenotype: ph}, a)
			}
		}

		if a := p.DeathRate(ph) * count * c.DrugHazard(s, site, ph); a > 0 {
			fn(Channel{Kind: Death, Site: site, Phenotype: ph}, a)
		}

		if targets := ph.MutationTargets(); len(targets) > 0 {
			if a := p.MutationRate * count / float64(len(targets)); a > 0 {
				for _, into := range targets {
					fn(Channel{Kind: Mutation, Site: site, Phenotype: ph, Into: into}, a)
				}
			}
		}

		if a := p.MigrationRate * count; a > 0 {
			for _, nb := range neighbors {
				if s.SpareCapacity(nb) > 0 {
					fn(Channel{Kind: CellMigration, Site: site, Target: nb, Phenotype: ph}, a)
				}
			}
		}
	}

	for _, d := range model.AllDrugKinds {
		q := s.DrugQuantity(site, d)
		if q <= 0 {
			continue
		}
		if a := p.DiffusionRate * q; a > 0 {
			for _, nb := range neighbors {
				fn(Channel{Kind: DrugDiffusion, Site: site, Target: nb, Drug: d}, a)
			}
		}
		if a := p.UptakeRate * q * float64(occ); a > 0 {
			fn(Channel{Kind: DrugUptake, Site: site, Drug: d}, a)
		}
		if a := p.DecayRate * q; a > 0 {
			fn(Channel{Kind: DrugDecay, Site: site, Drug: d}, a)
		}
	}
}

// SiteTotal returns the summed propensity of every channel rooted at site,
// accumulated in enumeration order.
func (c *Catalog) SiteTotal(s *population.State, site int) float64 {
	total := 0.0
	c.Enumerate(s, site, func(_ Channel, a float64) {
		total += a
	})
	return total
}

// Select walks the channels at site and returns the first one whose running
// propensity sum exceeds u. If rounding leaves u at or beyond the final sum,
// the last channel is returned. ok is false when the site has no channels.
func (c *Catalog) Select(s *population.State, site int, u float64) (ch Channel, ok bool) {
	cum := 0.0
	found := false
	c.Enumerate(s, site, func(cand Channel, a float64) {
		if found {
			return
		}
		cum += a
		ch, ok = cand, true
		if cum > u {
			found = true
		}
	})
	return ch, ok
}

// Apply performs the effect of ch on s. Errors from the population state are
// returned unchanged and indicate a gating defect.
func (c *Catalog) Apply(s *population.State, ch Channel) error {
	switch ch.Kind {
	case Birth:
		return s.ApplyDelta(ch.Site, ch.Phenotype, 1)
	case Death:
		return s.ApplyDelta(ch.Site, ch.Phenotype, -1)
	case Mutation:
		// Decrement first so a full site can still convert a cell.
		if err := s.ApplyDelta(ch.Site, ch.Phenotype, -1); err != nil {
			return err
		}
		return s.ApplyDelta(ch.Site, ch.Into, 1)
	case CellMigration:
		if err := s.ApplyDelta(ch.Site, ch.Phenotype, -1); err != nil {
			return err
		}
		return s.ApplyDelta(ch.Target, ch.Phenotype, 1)
	case DrugDiffusion:
		delta := c.drugDelta(s, ch)
		if err := s.ApplyDrugDelta(ch.Site, ch.Drug, -delta); err != nil {
			return err
		}
		return s.ApplyDrugDelta(ch.Target, ch.Drug, delta)
	case DrugUptake, DrugDecay:
		return s.ApplyDrugDelta(ch.Site, ch.Drug, -c.drugDelta(s, ch))
	default:
		return fmt.Errorf("apply: unknown channel kind %d", int(ch.Kind))
	}
}

// drugDelta is the amount a drug event removes from its source: one quantum,
// or whatever is left if less.
func (c *Catalog) drugDelta(s *population.State, ch Channel) float64 {
	return min(c.params.DrugQuantum, s.DrugQuantity(ch.Site, ch.Drug))
}

// Affected returns the sorted, deduplicated sites whose site totals may
// change when ch is applied. Cell events change occupancy, which gates
// migration into the site from every neighbor; drug events only touch the
// propensities of the sites holding the drug.
func (c *Catalog) Affected(ch Channel) []int {
	sites := []int{ch.Site}
	twoSited := ch.Kind == CellMigration || ch.Kind == DrugDiffusion
	if twoSited {
		sites = append(sites, ch.Target)
	}
	if ch.Kind.IsCell() {
		sites = append(sites, c.graph.Neighbors(ch.Site)...)
		if twoSited {
			sites = append(sites, c.graph.Neighbors(ch.Target)...)
		}
	}
	slices.Sort(sites)
	return slices.Compact(sites)
}
