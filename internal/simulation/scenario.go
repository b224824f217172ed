package simulation

import (
	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/population"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name string

	// Configure, when non-nil, adjusts the default configuration before the
	// run. The result is not validated, so zero rates are allowed.
	Configure func(cfg *config.SimConfig)

	// Seeds lists one replicate per seed. Empty runs the configured seed once.
	Seeds []uint64

	// SampleInterval is the simulated time between captured samples. Zero
	// uses the configured record interval.
	SampleInterval float64

	// CheckEveryEvent validates the population after every applied event
	// instead of only at captured samples.
	CheckEveryEvent bool

	// Persist writes every replicate to the runner's SQLite store.
	Persist bool
}

// Violation records one invariant failure.
type Violation struct {
	Seed uint64
	Time float64
	Site int
	Msg  string
}

// ReplicateResult captures the outcome of one seed.
type ReplicateResult struct {
	Seed      uint64
	RunID     string
	Status    engine.Status
	FinalTime float64
	Events    int64
	Checked   int64 // populations validated
	Initial   population.Snapshot
	Final     population.Snapshot
	Samples   []engine.Sample

	CapacityViolations []Violation
	NegativeViolations []Violation
	DrugIncreases      []Violation
}

// SimulationResult captures all replicates of a scenario.
type SimulationResult struct {
	Scenario   Scenario
	Config     *config.SimConfig
	Replicates []ReplicateResult
}

// SeedRange returns the seeds first..last inclusive.
func SeedRange(first, last uint64) []uint64 {
	var out []uint64
	for s := first; s <= last; s++ {
		out = append(out, s)
	}
	return out
}
