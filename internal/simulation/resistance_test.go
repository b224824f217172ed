package simulation_test

import (
	"testing"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/simulation"
)

// TestResistanceEmergesUnderTherapy runs the reference therapy scenario.
//
// Setup:
//   - 3x3 von Neumann lattice, capacity 100 per site
//   - 800 non-resistant cells and 200 units of each drug, placed uniformly
//   - Default rates (resistant cells divide slightly slower, mutation 0.001)
//   - Horizon 50, 64 fixed seeds
//
// Expected: capacity and non-negativity hold after every event, and the
// resistant share pooled over the replicates ends above its initial value
// of zero. A single replicate loses its resistant lineage to drift often
// enough that only the pooled share is a stable property.
func TestResistanceEmergesUnderTherapy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 64-replicate scenario in short mode")
	}
	r := simulation.NewRunner(t)

	result := r.Run(simulation.Scenario{
		Name:            "reference-therapy",
		Seeds:           simulation.SeedRange(1, 64),
		CheckEveryEvent: true,
	})

	for _, rep := range result.Replicates {
		if rep.Initial.TotalCells() != 800 {
			t.Fatalf("seed %d started with %d cells, want 800", rep.Seed, rep.Initial.TotalCells())
		}
		if rep.Checked != rep.Events+2 {
			t.Errorf("seed %d checked %d populations for %d events", rep.Seed, rep.Checked, rep.Events)
		}
	}

	simulation.AssertTerminated(t, result)
	simulation.AssertCapacityRespected(t, result)
	simulation.AssertNonNegative(t, result)
	simulation.AssertDrugNeverCreated(t, result)
	simulation.AssertResistantShareIncreased(t, result)

	final := simulation.PooledResistantShare(result, func(r simulation.ReplicateResult) population.Snapshot { return r.Final })
	t.Logf("pooled resistant share at t=%.0f: %.4f", result.Config.Run.Horizon, final)
}

// TestNoMutationNoResistance checks that resistance only arises through
// mutation: with the mutation rate at zero no resistant cell ever appears.
func TestNoMutationNoResistance(t *testing.T) {
	r := simulation.NewRunner(t)

	result := r.Run(simulation.Scenario{
		Name:  "no-mutation",
		Seeds: simulation.SeedRange(1, 4),
		Configure: func(cfg *config.SimConfig) {
			cfg.Rates.Mutation = 0
			cfg.Run.Horizon = 10
		},
		SampleInterval: 0.25,
	})

	simulation.AssertTerminated(t, result)
	simulation.AssertNoResistance(t, result)
	for _, rep := range result.Replicates {
		if rep.Final.ResistantCells() != 0 {
			t.Errorf("seed %d ended with %d resistant cells", rep.Seed, rep.Final.ResistantCells())
		}
	}
}

// TestStrongTherapySelectsResistance gives resistant cells a clear growth
// advantage while drug levels stay constant, so selection is visible within
// each replicate.
//
// Non-resistant death under drug (1 + 0.01*44) exceeds their best birth
// rate of 1.1, while singly resistant cells (death 1.22, birth up to 2.0)
// settle near 39 per site.
func TestStrongTherapySelectsResistance(t *testing.T) {
	r := simulation.NewRunner(t)

	result := r.Run(simulation.Scenario{
		Name:  "strong-therapy",
		Seeds: simulation.SeedRange(1, 8),
		Configure: func(cfg *config.SimConfig) {
			cfg.Rates.Mutation = 0.01
			cfg.Rates.DrugPotency = 0.01
			cfg.Rates.ResistantBirth = 2.0
			cfg.Rates.Decay = 0
			cfg.Rates.Uptake = 0
			cfg.Run.Horizon = 20
		},
		CheckEveryEvent: true,
		SampleInterval:  1,
	})

	simulation.AssertCapacityRespected(t, result)
	simulation.AssertNonNegative(t, result)
	simulation.AssertResistantShareIncreased(t, result)

	final := simulation.PooledResistantShare(result, func(r simulation.ReplicateResult) population.Snapshot { return r.Final })
	if final < 0.5 {
		t.Errorf("pooled resistant share = %.3f, want resistant cells to dominate under strong therapy", final)
	}
}
