// Package ensemble runs independent replicates of one simulation
// configuration concurrently and summarizes their outcomes.
//
// Replicate i uses seed cfg.Run.Seed+i, so an ensemble is reproducible
// regardless of worker count or completion order. All replicates share one
// agent registry; each owns its scheduler, population and random stream.
package ensemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/logging"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/registry"
	"github.com/nvandessel/resistsim/internal/store"
)

// Options configures an ensemble run. Config is required; everything else
// is optional.
type Options struct {
	Config *config.SimConfig

	// Replicates overrides Config.Run.Replicates when positive.
	Replicates int

	// Workers bounds concurrent replicates. Zero uses Config.Run.Workers,
	// then GOMAXPROCS.
	Workers int

	// KeepSamples retains every replicate's recorded trajectory in its Result.
	KeepSamples bool

	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  engine.Metrics
	Events   *logging.EventLogger

	// Store, when set, receives one run per replicate tagged with the
	// ensemble ID.
	Store store.RunStore
}

// Result is the outcome of one replicate.
type Result struct {
	Replicate int           `json:"replicate"`
	Seed      uint64        `json:"seed"`
	RunID     string        `json:"run_id,omitempty"`
	Status    engine.Status `json:"status"`
	FinalTime float64       `json:"final_time"`
	Events    int64         `json:"events"`
	Cells     int           `json:"cells"`
	Share     float64       `json:"resistant_share"`
	Extinct   bool          `json:"extinct"`
	ExtinctAt float64       `json:"extinct_at,omitempty"` // first recorded time with no cells

	Final   population.Snapshot `json:"-"`
	Samples []engine.Sample     `json:"-"`
}

// Summary aggregates an ensemble.
type Summary struct {
	Replicates int            `json:"replicates"`
	Statuses   map[string]int `json:"statuses"`

	// MeanResistantShare averages the final resistant share of replicates
	// that still hold cells.
	MeanResistantShare float64 `json:"mean_resistant_share"`

	// PooledResistantShare is resistant cells over all cells, summed across
	// replicates at their final state.
	PooledResistantShare float64 `json:"pooled_resistant_share"`

	Extinctions        int     `json:"extinctions"`
	MeanExtinctionTime float64 `json:"mean_extinction_time,omitempty"`
	MeanEvents         float64 `json:"mean_events"`
}

// Report is the full outcome of Run.
type Report struct {
	ID      string        `json:"id"`
	Results []Result      `json:"results"`
	Summary Summary       `json:"summary"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Run executes the ensemble. It returns the first replicate error, after
// cancelling the remaining replicates.
func Run(ctx context.Context, opts Options) (*Report, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("ensemble: config is required")
	}
	n := opts.Replicates
	if n <= 0 {
		n = cfg.Run.Replicates
	}
	if n <= 0 {
		n = 1
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Run.Workers
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}

	var cfgJSON json.RawMessage
	if opts.Store != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encoding config: %w", err)
		}
		cfgJSON = data
	}

	report := &Report{ID: uuid.NewString(), Results: make([]Result, n)}
	logger.Info("ensemble started", "id", report.ID, "replicates", n, "workers", workers)
	began := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range n {
		g.Go(func() error {
			r := replicate{
				index:   i,
				seed:    cfg.Run.Seed + uint64(i),
				cfg:     cfg,
				cfgJSON: cfgJSON,
				opts:    opts,
				reg:     reg,
				logger:  logger.With("replicate", i),
				id:      report.ID,
			}
			res, err := r.run(gctx)
			if err != nil {
				return fmt.Errorf("replicate %d (seed %d): %w", i, r.seed, err)
			}
			report.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Elapsed = time.Since(began)
	report.Summary = Summarize(report.Results)
	logger.Info("ensemble finished",
		"id", report.ID,
		"elapsed", report.Elapsed,
		"pooled_resistant_share", report.Summary.PooledResistantShare,
		"extinctions", report.Summary.Extinctions)
	return report, nil
}

type replicate struct {
	index   int
	seed    uint64
	cfg     *config.SimConfig
	cfgJSON json.RawMessage
	opts    Options
	reg     *registry.Registry
	logger  *slog.Logger
	id      string
}

func (r replicate) run(ctx context.Context) (Result, error) {
	res := Result{Replicate: r.index, Seed: r.seed}

	var observers engine.Observers
	ext := &extinctionWatch{}
	observers = append(observers, ext)

	var rec *engine.Recorder
	if r.opts.KeepSamples {
		rec = engine.NewRecorder()
		observers = append(observers, rec)
	}

	var sink *store.Sink
	if r.opts.Store != nil {
		id, err := r.opts.Store.CreateRun(ctx, store.Run{
			EnsembleID: r.id,
			Replicate:  r.index,
			Seed:       r.seed,
			Sites:      r.cfg.Lattice.Rows * r.cfg.Lattice.Cols,
			Horizon:    r.cfg.Run.Horizon,
			Config:     r.cfgJSON,
			Status:     engine.Idle.String(),
			StartedAt:  time.Now(),
		})
		if err != nil {
			return res, err
		}
		res.RunID = id
		sink = store.NewSink(ctx, r.opts.Store, id, store.DefaultSinkBatch)
		observers = append(observers, sink)
	}

	build := BuildOptions{
		Seed:     r.seed,
		Registry: r.reg,
		Logger:   r.logger,
		Metrics:  r.opts.Metrics,
	}
	if r.opts.Events != nil {
		tag := res.RunID
		if tag == "" {
			tag = fmt.Sprintf("%s/%d", r.id, r.index)
		}
		build.EventLog = r.opts.Events.ForRun(tag)
	}

	sched, err := Build(r.cfg, build)
	if err != nil {
		return res, err
	}
	status, err := sched.Run(ctx, observers)
	if sink != nil {
		// An interrupted replicate keeps its samples and a non-terminal status.
		err = errors.Join(err, sink.Finish(sched.Status(), sched.Time(), sched.Events()))
	}
	if err != nil {
		return res, err
	}

	final := sched.Snapshot()
	res.Status = status
	res.FinalTime = sched.Time()
	res.Events = sched.Events()
	res.Final = final
	res.Cells = final.TotalCells()
	res.Share = final.ResistantShare()
	res.Extinct, res.ExtinctAt = ext.extinct, ext.at
	if rec != nil {
		res.Samples = rec.Samples()
	}
	return res, nil
}

// extinctionWatch remembers the first sample with no cells left.
type extinctionWatch struct {
	extinct bool
	at      float64
}

func (w *extinctionWatch) Observe(s engine.Sample) {
	if !w.extinct && s.Snapshot.TotalCells() == 0 {
		w.extinct = true
		w.at = s.Time
	}
}

// Summarize aggregates replicate results.
func Summarize(results []Result) Summary {
	sum := Summary{Replicates: len(results), Statuses: make(map[string]int)}
	var (
		shareSum   float64
		withCells  int
		resistant  int
		cells      int
		extinctSum float64
		eventSum   int64
	)
	for _, r := range results {
		sum.Statuses[r.Status.String()]++
		eventSum += r.Events
		if r.Cells > 0 {
			shareSum += r.Share
			withCells++
		}
		resistant += r.Final.ResistantCells()
		cells += r.Cells
		if r.Extinct {
			sum.Extinctions++
			extinctSum += r.ExtinctAt
		}
	}
	if withCells > 0 {
		sum.MeanResistantShare = shareSum / float64(withCells)
	}
	if cells > 0 {
		sum.PooledResistantShare = float64(resistant) / float64(cells)
	}
	if sum.Extinctions > 0 {
		sum.MeanExtinctionTime = extinctSum / float64(sum.Extinctions)
	}
	if len(results) > 0 {
		sum.MeanEvents = float64(eventSum) / float64(len(results))
	}
	return sum
}
