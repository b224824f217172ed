package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/visualization"
)

func newLatticeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lattice",
		Short: "Render the lattice and its population",
		Long: `Output the lattice in DOT (Graphviz) or JSON format, each site labeled with
its cells per phenotype and drug quantities.

By default the freshly seeded population is shown. --simulate runs to the
horizon first; --run shows the last recorded sample of a stored run.

Examples:
  resistsim lattice | neato -Tsvg > lattice.svg
  resistsim lattice --simulate --seed 3
  resistsim lattice --run 0b7c... --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			runID, _ := cmd.Flags().GetString("run")
			simulate, _ := cmd.Flags().GetBool("simulate")

			f, err := visualization.ParseFormat(format)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var (
				g    lattice.Graph
				snap population.Snapshot
			)
			if runID != "" {
				g, snap, err = storedLattice(cmd, cfg, runID)
			} else {
				if err := applySimFlags(cmd, cfg); err != nil {
					return err
				}
				g, snap, err = builtLattice(cmd, cfg, simulate)
			}
			if err != nil {
				return err
			}

			switch f {
			case visualization.FormatDOT:
				dot, err := visualization.RenderDOT(g, snap)
				if err != nil {
					return fmt.Errorf("render DOT: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), dot)

			case visualization.FormatJSON:
				result, err := visualization.RenderJSON(g, snap)
				if err != nil {
					return fmt.Errorf("render JSON: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(result); err != nil {
					return fmt.Errorf("encode JSON: %w", err)
				}

			default:
				return fmt.Errorf("unsupported format %q (use 'dot' or 'json'; charts come from 'export --format png')", format)
			}
			return nil
		},
	}

	addSimFlags(cmd)
	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().String("run", "", "Show the last recorded sample of this stored run")
	cmd.Flags().Bool("simulate", false, "Run to the horizon before rendering")
	return cmd
}

func builtLattice(cmd *cobra.Command, cfg *config.SimConfig, simulate bool) (lattice.Graph, population.Snapshot, error) {
	grid, err := cfg.Grid()
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	sched, err := ensemble.Build(cfg, ensemble.BuildOptions{Seed: cfg.Run.Seed, Logger: newLogger(cmd, cfg)})
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	if simulate {
		ctx, cancel := withSignals(cmd.Context())
		defer cancel()
		if _, err := sched.Run(ctx, nil); err != nil {
			return nil, population.Snapshot{}, err
		}
	}
	return grid, sched.Snapshot(), nil
}

func storedLattice(cmd *cobra.Command, cfg *config.SimConfig, runID string) (lattice.Graph, population.Snapshot, error) {
	rs, err := openRunStore(cfg)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	defer rs.Close()

	ctx := cmd.Context()
	run, err := rs.GetRun(ctx, runID)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	g, err := ensemble.LatticeOf(run)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	samples, err := rs.Samples(ctx, runID)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	if len(samples) == 0 {
		return nil, population.Snapshot{}, fmt.Errorf("run %s has no recorded samples", runID)
	}
	return g, samples[len(samples)-1].Snapshot, nil
}
