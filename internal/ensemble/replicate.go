package ensemble

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/reaction"
	"github.com/nvandessel/resistsim/internal/registry"
	"github.com/nvandessel/resistsim/internal/store"
)

// Resume restarts a run from a saved population instead of seeding one.
type Resume struct {
	Snapshot population.Snapshot
	Time     float64
}

// BuildOptions carries the collaborators handed to one scheduler.
type BuildOptions struct {
	Seed     uint64
	Resume   *Resume
	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  engine.Metrics
	EventLog engine.EventLog
}

// Build assembles the lattice, catalog and seeded population described by
// cfg and returns an Idle scheduler over them.
func Build(cfg *config.SimConfig, opts BuildOptions) (*engine.Scheduler, error) {
	grid, err := cfg.Grid()
	if err != nil {
		return nil, fmt.Errorf("building lattice: %w", err)
	}
	catalog, err := reaction.NewCatalog(grid, cfg.Params())
	if err != nil {
		return nil, err
	}

	state := population.New(grid)
	start := 0.0
	if opts.Resume != nil {
		if err := state.Restore(opts.Resume.Snapshot); err != nil {
			return nil, fmt.Errorf("restoring population: %w", err)
		}
		start = opts.Resume.Time
	} else {
		placement, err := cfg.Placement()
		if err != nil {
			return nil, err
		}
		if err := population.Seed(state, placement, cfg.InitialConditions()); err != nil {
			return nil, fmt.Errorf("seeding population: %w", err)
		}
	}

	return engine.New(engine.Options{
		Catalog:        catalog,
		State:          state,
		Random:         engine.NewRandom(opts.Seed),
		Horizon:        cfg.Run.Horizon,
		StartTime:      start,
		RecordInterval: cfg.Run.RecordInterval,
		FullRescan:     cfg.Run.FullRescan,
		Registry:       opts.Registry,
		Logger:         opts.Logger,
		Metrics:        opts.Metrics,
		EventLog:       opts.EventLog,
	})
}

// LatticeOf rebuilds the lattice a stored run was simulated on from the
// configuration recorded with it.
func LatticeOf(run *store.Run) (lattice.Graph, error) {
	if len(run.Config) == 0 {
		return nil, fmt.Errorf("run %s has no recorded configuration", run.ID)
	}
	cfg := config.Default()
	if err := json.Unmarshal(run.Config, cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration of run %s: %w", run.ID, err)
	}
	return cfg.Grid()
}
