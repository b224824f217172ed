package reaction

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/resistsim/internal/model"
)

// ErrInvalidParameter is returned when a rate or constant lies outside its
// domain. It is detected before any simulation step runs.
var ErrInvalidParameter = errors.New("invalid parameter")

// DefaultDrugQuantum is the amount of drug moved or removed by one drug event.
const DefaultDrugQuantum = 1.0

// Params holds the fixed rate constants of a run.
type Params struct {
	NonResistantBirth float64
	NonResistantDeath float64
	ResistantBirth    float64
	ResistantDeath    float64

	MutationRate  float64
	MigrationRate float64
	DiffusionRate float64
	UptakeRate    float64
	DecayRate     float64

	// DrugPotency scales how strongly each unit of a drug a cell is not
	// resistant to raises its death rate.
	DrugPotency float64

	// DrugQuantum is the drug amount moved by one diffusion, uptake or decay event.
	DrugQuantum float64
}

// BirthRate returns the per-cell birth rate of phenotype p.
func (p Params) BirthRate(ph model.Phenotype) float64 {
	if ph.Resistant() {
		return p.ResistantBirth
	}
	return p.NonResistantBirth
}

// DeathRate returns the per-cell base death rate of phenotype p.
func (p Params) DeathRate(ph model.Phenotype) float64 {
	if ph.Resistant() {
		return p.ResistantDeath
	}
	return p.NonResistantDeath
}

// Validate checks that every rate is finite and non-negative and that the
// drug quantum is positive.
func (p Params) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"non_resistant_birth_rate", p.NonResistantBirth},
		{"non_resistant_death_rate", p.NonResistantDeath},
		{"resistant_birth_rate", p.ResistantBirth},
		{"resistant_death_rate", p.ResistantDeath},
		{"mutation_rate", p.MutationRate},
		{"migration_rate", p.MigrationRate},
		{"diffusion_rate", p.DiffusionRate},
		{"uptake_rate", p.UptakeRate},
		{"decay_rate", p.DecayRate},
		{"drug_potency", p.DrugPotency},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s must be finite, got %v", ErrInvalidParameter, f.name, f.value)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: %s must be non-negative, got %v", ErrInvalidParameter, f.name, f.value)
		}
	}
	if !(p.DrugQuantum > 0) || math.IsInf(p.DrugQuantum, 0) {
		return fmt.Errorf("%w: drug_quantum must be positive, got %v", ErrInvalidParameter, p.DrugQuantum)
	}
	return nil
}
