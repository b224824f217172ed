package simulation_test

import (
	"context"
	"testing"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/simulation"
	"github.com/nvandessel/resistsim/internal/store"
)

// TestFullRescanMatchesIncremental runs the same seeds with incremental and
// full propensity refresh; the trajectories must be identical.
func TestFullRescanMatchesIncremental(t *testing.T) {
	r := simulation.NewRunner(t)
	seeds := simulation.SeedRange(10, 13)
	short := func(cfg *config.SimConfig) { cfg.Run.Horizon = 5 }

	incremental := r.Run(simulation.Scenario{Name: "incremental", Seeds: seeds, Configure: short})
	full := r.Run(simulation.Scenario{
		Name:  "full-rescan",
		Seeds: seeds,
		Configure: func(cfg *config.SimConfig) {
			short(cfg)
			cfg.Run.FullRescan = true
		},
	})

	for i := range seeds {
		a, b := incremental.Replicates[i], full.Replicates[i]
		if a.Events != b.Events || a.FinalTime != b.FinalTime || a.Status != b.Status {
			t.Errorf("seed %d: incremental (%d events, t=%v, %v) vs full (%d events, t=%v, %v)",
				a.Seed, a.Events, a.FinalTime, a.Status, b.Events, b.FinalTime, b.Status)
		}
		if !a.Final.Equal(b.Final) {
			t.Errorf("seed %d: final populations differ", a.Seed)
		}
		if len(a.Samples) != len(b.Samples) {
			t.Fatalf("seed %d: %d vs %d samples", a.Seed, len(a.Samples), len(b.Samples))
		}
		for j := range a.Samples {
			if !a.Samples[j].Snapshot.Equal(b.Samples[j].Snapshot) {
				t.Errorf("seed %d: sample %d differs", a.Seed, j)
				break
			}
		}
	}
}

// TestCrowdedLatticeStaysWithinCapacity drives fast, unchecked growth on a
// small lattice so that births and migrations constantly hit full sites.
func TestCrowdedLatticeStaysWithinCapacity(t *testing.T) {
	r := simulation.NewRunner(t)

	result := r.Run(simulation.Scenario{
		Name:  "crowded",
		Seeds: simulation.SeedRange(1, 4),
		Configure: func(cfg *config.SimConfig) {
			cfg.Lattice.Rows, cfg.Lattice.Cols, cfg.Lattice.Capacity = 2, 2, 10
			cfg.Lattice.Neighborhood = "moore"
			cfg.Initial.Cells = 4
			cfg.Rates.NonResistantBirth = 5
			cfg.Rates.NonResistantDeath = 0.1
			cfg.Rates.ResistantBirth = 5
			cfg.Rates.ResistantDeath = 0.1
			cfg.Rates.Migration = 2
			cfg.Rates.Mutation = 0.1
			cfg.Run.Horizon = 10
		},
		CheckEveryEvent: true,
	})

	simulation.AssertCapacityRespected(t, result)
	simulation.AssertNonNegative(t, result)
	simulation.AssertDrugNeverCreated(t, result)
	for _, rep := range result.Replicates {
		if cells := rep.Final.TotalCells(); cells < 30 {
			t.Errorf("seed %d ended with %d cells, want the lattice near its capacity of 40", rep.Seed, cells)
		}
	}
}

// TestDrugWashout removes every cell; the drug decays until no reaction can
// fire and the run is absorbed before the horizon.
func TestDrugWashout(t *testing.T) {
	r := simulation.NewRunner(t)

	result := r.Run(simulation.Scenario{
		Name:  "washout",
		Seeds: simulation.SeedRange(1, 3),
		Configure: func(cfg *config.SimConfig) {
			cfg.Initial.Cells = 0
			cfg.Rates.Decay = 1
			cfg.Run.Horizon = 1000
		},
		CheckEveryEvent: true,
	})

	simulation.AssertTerminated(t, result)
	simulation.AssertDrugNeverCreated(t, result)
	simulation.AssertNonNegative(t, result)
	for _, rep := range result.Replicates {
		if rep.Status != engine.Absorbed {
			t.Errorf("seed %d status = %v, want absorbed", rep.Seed, rep.Status)
		}
		if rep.FinalTime >= 1000 {
			t.Errorf("seed %d absorbed at t=%v, want before the horizon", rep.Seed, rep.FinalTime)
		}
		if rep.Final.TotalDrug(0)+rep.Final.TotalDrug(1) != 0 {
			t.Errorf("seed %d left drug behind", rep.Seed)
		}
	}
}

// TestPersistedReplicates checks that persisted replicates round-trip
// through the SQLite store with the samples the harness captured.
func TestPersistedReplicates(t *testing.T) {
	r := simulation.NewRunner(t)
	ctx := context.Background()

	result := r.Run(simulation.Scenario{
		Name:  "persisted",
		Seeds: simulation.SeedRange(5, 6),
		Configure: func(cfg *config.SimConfig) {
			cfg.Run.Horizon = 3
		},
		Persist: true,
	})

	runs, err := r.Store().ListRuns(ctx, store.RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("stored runs = %d, want 2", len(runs))
	}

	for _, rep := range result.Replicates {
		run, err := r.Store().GetRun(ctx, rep.RunID)
		if err != nil {
			t.Fatalf("GetRun() error = %v", err)
		}
		if run.Status != rep.Status.String() || run.Events != rep.Events {
			t.Errorf("stored run %s = (%s, %d events), want (%v, %d)", run.ID, run.Status, run.Events, rep.Status, rep.Events)
		}
		samples, err := r.Store().Samples(ctx, rep.RunID)
		if err != nil {
			t.Fatalf("Samples() error = %v", err)
		}
		if len(samples) != len(rep.Samples) {
			t.Fatalf("stored %d samples, harness captured %d", len(samples), len(rep.Samples))
		}
		last := samples[len(samples)-1]
		if !last.Snapshot.Equal(rep.Final) || last.Status != rep.Status {
			t.Errorf("last stored sample does not match the final population")
		}
	}

	if r.Registry().Len() == 0 {
		t.Error("shared registry resolved no agents")
	}
}
