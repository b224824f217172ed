// Package model defines the cell phenotypes and drug kinds the simulation
// operates on, together with their fixed resistance profiles.
package model

import (
	"fmt"
	"strings"
)

// DrugKind identifies one of the two drugs present on the lattice.
type DrugKind int

const (
	DrugA DrugKind = iota
	DrugB
)

// NumDrugKinds is the number of drug kinds.
const NumDrugKinds = 2

// AllDrugKinds lists every drug kind in the canonical enumeration order.
var AllDrugKinds = [NumDrugKinds]DrugKind{DrugA, DrugB}

// String returns the short name of the drug ("A" or "B").
func (d DrugKind) String() string {
	switch d {
	case DrugA:
		return "A"
	case DrugB:
		return "B"
	default:
		return fmt.Sprintf("DrugKind(%d)", int(d))
	}
}

// Valid reports whether d is a known drug kind.
func (d DrugKind) Valid() bool {
	return d == DrugA || d == DrugB
}

// ParseDrugKind maps "a"/"b" (case-insensitive, optional "drug" prefix) to a DrugKind.
func ParseDrugKind(s string) (DrugKind, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "drug") {
	case "a":
		return DrugA, nil
	case "b":
		return DrugB, nil
	default:
		return 0, fmt.Errorf("unknown drug kind %q (valid: A, B)", s)
	}
}

// Phenotype is a heritable cell trait limited to resistance status.
type Phenotype int

const (
	NonResistant Phenotype = iota
	ResistantA
	ResistantB
	ResistantAB
)

// NumPhenotypes is the number of phenotypes.
const NumPhenotypes = 4

// AllPhenotypes lists every phenotype in the canonical enumeration order.
var AllPhenotypes = [NumPhenotypes]Phenotype{NonResistant, ResistantA, ResistantB, ResistantAB}

// resistance is indexed by [phenotype][drug]. Profiles never change at runtime.
var resistance = [NumPhenotypes][NumDrugKinds]bool{
	NonResistant: {false, false},
	ResistantA:   {true, false},
	ResistantB:   {false, true},
	ResistantAB:  {true, true},
}

var mutationTargets = [NumPhenotypes][]Phenotype{
	NonResistant: {ResistantA, ResistantB},
	ResistantA:   {ResistantAB},
	ResistantB:   {ResistantAB},
	ResistantAB:  nil,
}

var phenotypeNames = [NumPhenotypes]string{
	NonResistant: "non-resistant",
	ResistantA:   "resistant-a",
	ResistantB:   "resistant-b",
	ResistantAB:  "resistant-ab",
}

// ResistantTo reports whether cells of phenotype p ignore drug d.
func (p Phenotype) ResistantTo(d DrugKind) bool {
	if !p.Valid() || !d.Valid() {
		return false
	}
	return resistance[p][d]
}

// Resistant reports whether p resists at least one drug.
func (p Phenotype) Resistant() bool {
	return p.ResistantTo(DrugA) || p.ResistantTo(DrugB)
}

// MutationTargets returns the phenotypes p can mutate into. The returned
// slice must not be modified.
func (p Phenotype) MutationTargets() []Phenotype {
	if !p.Valid() {
		return nil
	}
	return mutationTargets[p]
}

// Valid reports whether p is a known phenotype.
func (p Phenotype) Valid() bool {
	return p >= NonResistant && p <= ResistantAB
}

func (p Phenotype) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phenotype(%d)", int(p))
	}
	return phenotypeNames[p]
}

// ParsePhenotype accepts the names produced by String.
func ParsePhenotype(s string) (Phenotype, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, p := range AllPhenotypes {
		if phenotypeNames[p] == key {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown phenotype %q", s)
}
