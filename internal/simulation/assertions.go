package simulation

import (
	"testing"

	"github.com/nvandessel/resistsim/internal/population"
)

// AssertCapacityRespected asserts that no site ever held more cells than
// its capacity in any checked population.
func AssertCapacityRespected(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, rep := range result.Replicates {
		for _, v := range rep.CapacityViolations {
			t.Errorf("AssertCapacityRespected: seed %d t=%.4f site %d: %s", v.Seed, v.Time, v.Site, v.Msg)
		}
	}
}

// AssertNonNegative asserts that no cell count or drug quantity ever went
// below zero.
func AssertNonNegative(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, rep := range result.Replicates {
		for _, v := range rep.NegativeViolations {
			t.Errorf("AssertNonNegative: seed %d t=%.4f site %d: %s", v.Seed, v.Time, v.Site, v.Msg)
		}
	}
}

// AssertDrugNeverCreated asserts that the lattice-wide drug total never
// increased between consecutive checks. Diffusion only moves drug; uptake
// and decay only remove it.
func AssertDrugNeverCreated(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, rep := range result.Replicates {
		for _, v := range rep.DrugIncreases {
			t.Errorf("AssertDrugNeverCreated: seed %d t=%.4f: %s", v.Seed, v.Time, v.Msg)
		}
	}
}

// AssertTerminated asserts that every replicate reached a terminal state
// without its clock passing the horizon.
func AssertTerminated(t *testing.T, result SimulationResult) {
	t.Helper()
	horizon := result.Config.Run.Horizon
	for _, rep := range result.Replicates {
		if !rep.Status.Terminal() {
			t.Errorf("AssertTerminated: seed %d ended in %v", rep.Seed, rep.Status)
		}
		if rep.FinalTime > horizon {
			t.Errorf("AssertTerminated: seed %d clock %.4f past horizon %.4f", rep.Seed, rep.FinalTime, horizon)
		}
	}
}

// AssertResistantShareIncreased asserts that the resistant share pooled
// over all replicates is higher at the end than at the start.
func AssertResistantShareIncreased(t *testing.T, result SimulationResult) {
	t.Helper()
	initial := PooledResistantShare(result, func(r ReplicateResult) population.Snapshot { return r.Initial })
	final := PooledResistantShare(result, func(r ReplicateResult) population.Snapshot { return r.Final })
	if final <= initial {
		t.Errorf("AssertResistantShareIncreased: pooled resistant share %.6f at end, %.6f at start (%d replicates)",
			final, initial, len(result.Replicates))
	}
}

// AssertNoResistance asserts that no replicate ever produced a resistant
// cell in any captured sample.
func AssertNoResistance(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, rep := range result.Replicates {
		for _, s := range rep.Samples {
			if n := s.Snapshot.ResistantCells(); n > 0 {
				t.Errorf("AssertNoResistance: seed %d t=%.4f: %d resistant cells", rep.Seed, s.Time, n)
				break
			}
		}
	}
}

// PooledResistantShare returns resistant cells over all cells summed across
// replicates, taking each replicate's population from pick.
func PooledResistantShare(result SimulationResult, pick func(ReplicateResult) population.Snapshot) float64 {
	resistant, total := 0, 0
	for _, rep := range result.Replicates {
		snap := pick(rep)
		resistant += snap.ResistantCells()
		total += snap.TotalCells()
	}
	if total == 0 {
		return 0
	}
	return float64(resistant) / float64(total)
}
