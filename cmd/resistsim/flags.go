package main

import (
	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/config"
)

// addSimFlags registers the configuration overrides shared by commands that
// build a simulation.
func addSimFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Uint64("seed", 0, "Random seed (overrides run.seed)")
	f.Float64("horizon", 0, "Simulated time at which the run stops")
	f.Int("rows", 0, "Lattice rows")
	f.Int("cols", 0, "Lattice columns")
	f.Int("capacity", 0, "Cell capacity of every site")
	f.String("neighborhood", "", "Neighbor rule: von-neumann or moore")
	f.Bool("periodic", false, "Wrap lattice edges into a torus")
	f.Int("cells", 0, "Initial non-resistant cells")
	f.Float64("drug", 0, "Initial quantity of each drug")
	f.String("placement", "", "Initial placement: uniform, proportional or localized")
	f.Float64("mutation", 0, "Per-cell mutation rate")
	f.Float64("record-interval", 0, "Simulated time between recorded samples")
	f.Bool("full-rescan", false, "Recompute every site's propensities after each event")
}

// applySimFlags copies the flags the user set onto cfg and validates it.
func applySimFlags(cmd *cobra.Command, cfg *config.SimConfig) error {
	f := cmd.Flags()
	if f.Changed("seed") {
		cfg.Run.Seed, _ = f.GetUint64("seed")
	}
	if f.Changed("horizon") {
		cfg.Run.Horizon, _ = f.GetFloat64("horizon")
	}
	if f.Changed("rows") {
		cfg.Lattice.Rows, _ = f.GetInt("rows")
	}
	if f.Changed("cols") {
		cfg.Lattice.Cols, _ = f.GetInt("cols")
	}
	if f.Changed("capacity") {
		cfg.Lattice.Capacity, _ = f.GetInt("capacity")
	}
	if f.Changed("neighborhood") {
		cfg.Lattice.Neighborhood, _ = f.GetString("neighborhood")
	}
	if f.Changed("periodic") {
		cfg.Lattice.Periodic, _ = f.GetBool("periodic")
	}
	if f.Changed("cells") {
		cfg.Initial.Cells, _ = f.GetInt("cells")
	}
	if f.Changed("drug") {
		cfg.Initial.Drug, _ = f.GetFloat64("drug")
	}
	if f.Changed("placement") {
		cfg.Initial.Placement, _ = f.GetString("placement")
	}
	if f.Changed("mutation") {
		cfg.Rates.Mutation, _ = f.GetFloat64("mutation")
	}
	if f.Changed("record-interval") {
		cfg.Run.RecordInterval, _ = f.GetFloat64("record-interval")
	}
	if f.Changed("full-rescan") {
		cfg.Run.FullRescan, _ = f.GetBool("full-rescan")
	}
	return cfg.Validate()
}
