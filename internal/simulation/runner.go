package simulation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/model"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/registry"
	"github.com/nvandessel/resistsim/internal/store"
)

// maxViolations caps how many failures of one kind a replicate keeps.
const maxViolations = 10

// drugTolerance absorbs floating-point noise when comparing drug totals.
const drugTolerance = 1e-9

// Runner orchestrates multi-replicate experiments against the real engine
// and a real SQLite run store.
type Runner struct {
	t        *testing.T
	store    *store.SQLiteRunStore
	registry *registry.Registry
}

// NewRunner creates a simulation runner with an isolated SQLite store and
// sandboxed HOME directory.
func NewRunner(t *testing.T) *Runner {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	s, err := store.NewSQLiteRunStore(filepath.Join(tmpDir, "runs.db"))
	if err != nil {
		t.Fatalf("NewRunner: failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return &Runner{t: t, store: s, registry: registry.New()}
}

// Store returns the runner's run store.
func (r *Runner) Store() *store.SQLiteRunStore { return r.store }

// Registry returns the agent registry shared by every replicate.
func (r *Runner) Registry() *registry.Registry { return r.registry }

// Run executes every replicate of the scenario and returns the collected
// results. Replicates run concurrently; results keep seed order.
func (r *Runner) Run(scenario Scenario) SimulationResult {
	r.t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	if scenario.Configure != nil {
		scenario.Configure(cfg)
	}
	seeds := scenario.Seeds
	if len(seeds) == 0 {
		seeds = []uint64{cfg.Run.Seed}
	}
	interval := scenario.SampleInterval
	if interval <= 0 {
		interval = cfg.Run.RecordInterval
	}

	runCfg := *cfg
	if scenario.CheckEveryEvent {
		runCfg.Run.RecordInterval = 0
	}

	var cfgJSON json.RawMessage
	if scenario.Persist {
		data, err := json.Marshal(cfg)
		if err != nil {
			r.t.Fatalf("Run(%s): encode config: %v", scenario.Name, err)
		}
		cfgJSON = data
	}

	results := make([]ReplicateResult, len(seeds))
	var g errgroup.Group
	for i, seed := range seeds {
		g.Go(func() error {
			res, err := r.runReplicate(ctx, &runCfg, cfgJSON, seed, interval, scenario.Persist)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.t.Fatalf("Run(%s): %v", scenario.Name, err)
	}

	return SimulationResult{Scenario: scenario, Config: cfg, Replicates: results}
}

func (r *Runner) runReplicate(ctx context.Context, cfg *config.SimConfig, cfgJSON json.RawMessage, seed uint64, interval float64, persist bool) (ReplicateResult, error) {
	res := ReplicateResult{Seed: seed}
	chk := &checker{seed: seed, interval: interval, res: &res}

	observers := engine.Observers{chk}
	var sink *store.Sink
	if persist {
		id, err := r.store.CreateRun(ctx, store.Run{
			Seed:      seed,
			Sites:     cfg.Lattice.Rows * cfg.Lattice.Cols,
			Horizon:   cfg.Run.Horizon,
			Config:    cfgJSON,
			Status:    engine.Idle.String(),
			StartedAt: time.Now(),
		})
		if err != nil {
			return res, err
		}
		res.RunID = id
		sink = store.NewSink(ctx, r.store, id, store.DefaultSinkBatch)
		observers = append(observers, engine.ObserverFunc(func(s engine.Sample) {
			// Store only the samples the checker keeps.
			if n := len(res.Samples); n > 0 && res.Samples[n-1].Events == s.Events && res.Samples[n-1].Time == s.Time {
				sink.Observe(s)
			}
		}))
	}

	sched, err := ensemble.Build(cfg, ensemble.BuildOptions{Seed: seed, Registry: r.registry})
	if err != nil {
		return res, err
	}
	status, err := sched.Run(ctx, observers)
	if err != nil {
		return res, err
	}

	res.Status = status
	res.FinalTime = sched.Time()
	res.Events = sched.Events()
	res.Final = sched.Snapshot()

	if sink != nil {
		if err := sink.Close(); err != nil {
			return res, err
		}
		if err := r.store.FinishRun(ctx, res.RunID, status, res.FinalTime, res.Events); err != nil {
			return res, err
		}
	}
	return res, nil
}

// checker validates every sample it observes and keeps those that cross
// the sampling interval.
type checker struct {
	seed     uint64
	interval float64
	next     float64
	lastDrug float64
	res      *ReplicateResult
}

func (c *checker) Observe(s engine.Sample) {
	snap := s.Snapshot
	c.res.Checked++

	for site := range snap.Cells {
		if occ := snap.Occupancy(site); occ > snap.Capacity[site] {
			c.add(&c.res.CapacityViolations, s.Time, site, fmt.Sprintf("occupancy %d > capacity %d", occ, snap.Capacity[site]))
		}
		for _, p := range model.AllPhenotypes {
			if n := snap.Cells[site][p]; n < 0 {
				c.add(&c.res.NegativeViolations, s.Time, site, fmt.Sprintf("%s = %d", p, n))
			}
		}
		for _, d := range model.AllDrugKinds {
			if q := snap.Drug[site][d]; q < 0 || math.IsNaN(q) {
				c.add(&c.res.NegativeViolations, s.Time, site, fmt.Sprintf("drug %s = %g", d, q))
			}
		}
	}

	drug := totalDrug(snap)
	if c.res.Checked > 1 && drug > c.lastDrug+drugTolerance {
		c.add(&c.res.DrugIncreases, s.Time, -1, fmt.Sprintf("total drug rose from %g to %g", c.lastDrug, drug))
	}
	c.lastDrug = drug

	if c.res.Checked == 1 {
		c.res.Initial = snap
	}
	if c.res.Checked == 1 || s.Status.Terminal() || s.Time >= c.next {
		c.res.Samples = append(c.res.Samples, s)
		if c.interval > 0 {
			c.next = (math.Floor(s.Time/c.interval) + 1) * c.interval
		}
	}
}

func (c *checker) add(list *[]Violation, t float64, site int, msg string) {
	if len(*list) < maxViolations {
		*list = append(*list, Violation{Seed: c.seed, Time: t, Site: site, Msg: msg})
	}
}

func totalDrug(s population.Snapshot) float64 {
	total := 0.0
	for _, d := range model.AllDrugKinds {
		total += s.TotalDrug(d)
	}
	return total
}
