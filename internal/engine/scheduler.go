// Package engine implements the stochastic simulation algorithm (Gillespie's
// direct method) that advances the population through time one reaction at
// a time.
//
// The scheduler keeps the total propensity of every site and, after each
// event, recomputes only the sites the event could have changed. Because a
// site total is a pure function of the population, the incremental and the
// full-rescan modes produce bit-identical trajectories for the same random
// stream.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nvandessel/resistsim/internal/logging"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/reaction"
	"github.com/nvandessel/resistsim/internal/registry"
)

// ErrInconsistent wraps a population invariant failure raised while applying
// an event. It signals a gating defect in the catalog and is never recovered.
var ErrInconsistent = errors.New("internal consistency fault")

// ctxCheckInterval is how many events run between context checks.
const ctxCheckInterval = 1024

// Metrics receives scheduler observations. Implementations must be cheap;
// they are called once per event.
type Metrics interface {
	ObserveEvent(kind reaction.ChannelKind)
	ObserveState(time, lambda float64, cells int)
	ObserveStatus(status Status)
}

// EventLog receives one trace record per applied event.
type EventLog interface {
	Log(r logging.Reaction)
}

// Options configures a Scheduler.
type Options struct {
	Catalog *reaction.Catalog
	State   *population.State
	Random  Random

	// Horizon is the simulated time at which the run stops. +Inf runs until
	// the population is absorbed.
	Horizon float64

	// StartTime is the clock value of the initial state (non-zero when
	// resuming from a checkpoint).
	StartTime float64

	// RecordInterval is the simulated time between samples handed to the
	// observer by Run. Zero records after every event.
	RecordInterval float64

	// FullRescan recomputes every site total after every event instead of
	// only the affected ones.
	FullRescan bool

	Registry *registry.Registry
	Logger   *slog.Logger
	Metrics  Metrics
	EventLog EventLog
}

// Event describes one scheduler step. Applied is false when the step found
// the scheduler in, or moved it into, a terminal state.
type Event struct {
	Seq     int64
	Time    float64
	Tau     float64
	Lambda  float64
	Channel reaction.Channel
	Agents  []*registry.Agent
	Applied bool
	Status  Status
}

// Sample is a point on the recorded trajectory.
type Sample struct {
	Time     float64
	Events   int64
	Status   Status
	Snapshot population.Snapshot
}

// Observer receives trajectory samples from Run.
type Observer interface {
	Observe(Sample)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Sample)

// Observe calls f(s).
func (f ObserverFunc) Observe(s Sample) { f(s) }

// Scheduler is the SSA event loop. It is single-threaded: the scheduler and
// its population state must not be used from more than one goroutine.
type Scheduler struct {
	catalog *reaction.Catalog
	state   *population.State
	rng     Random
	opts    Options
	logger  *slog.Logger

	siteTotals []float64
	lambda     float64

	time       float64
	events     int64
	status     Status
	err        error
	nextRecord float64
}

// New validates opts and returns an Idle scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("engine: catalog is required")
	}
	if opts.State == nil {
		return nil, fmt.Errorf("engine: population state is required")
	}
	if opts.Random == nil {
		return nil, fmt.Errorf("engine: random source is required")
	}
	if opts.State.Len() != opts.Catalog.Graph().Len() {
		return nil, fmt.Errorf("engine: state has %d sites, catalog lattice has %d", opts.State.Len(), opts.Catalog.Graph().Len())
	}
	if math.IsNaN(opts.Horizon) || opts.Horizon <= opts.StartTime {
		return nil, fmt.Errorf("%w: horizon %v must be after start time %v", reaction.ErrInvalidParameter, opts.Horizon, opts.StartTime)
	}
	if opts.RecordInterval < 0 || math.IsNaN(opts.RecordInterval) {
		return nil, fmt.Errorf("%w: record interval %v must be non-negative", reaction.ErrInvalidParameter, opts.RecordInterval)
	}
	if err := opts.State.Snapshot().Validate(); err != nil {
		return nil, fmt.Errorf("engine: initial population: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		catalog:    opts.Catalog,
		state:      opts.State,
		rng:        opts.Random,
		opts:       opts,
		logger:     logger,
		siteTotals: make([]float64, opts.State.Len()),
		time:       opts.StartTime,
		status:     Idle,
	}
	s.nextRecord = s.advanceRecordMark(opts.StartTime)
	return s, nil
}

// Time returns the current simulated time.
func (s *Scheduler) Time() float64 { return s.time }

// Status returns the current lifecycle state.
func (s *Scheduler) Status() Status { return s.status }

// Events returns the number of events applied so far.
func (s *Scheduler) Events() int64 { return s.events }

// Lambda returns the total propensity as of the last step.
func (s *Scheduler) Lambda() float64 { return s.lambda }

// Err returns the sticky consistency fault, if one occurred.
func (s *Scheduler) Err() error { return s.err }

// Snapshot returns a copy of the current population.
func (s *Scheduler) Snapshot() population.Snapshot { return s.state.Snapshot() }

// Sample returns the current trajectory point.
func (s *Scheduler) Sample() Sample {
	return Sample{Time: s.time, Events: s.events, Status: s.status, Snapshot: s.state.Snapshot()}
}

// Step performs one iteration of the direct method. On a terminal
// scheduler it returns an Event with Applied false and changes nothing.
func (s *Scheduler) Step() (Event, error) {
	if s.err != nil {
		return Event{}, s.err
	}
	if s.status.Terminal() {
		return Event{Time: s.time, Status: s.status}, nil
	}
	if s.status == Idle {
		s.rescanAll()
		s.transition(Running)
	}

	lambda := s.lambda
	if !(lambda > 0) {
		s.transition(Absorbed)
		return Event{Time: s.time, Status: s.status}, nil
	}

	tau := s.rng.ExpFloat64() / lambda
	if s.time+tau > s.opts.Horizon {
		s.time = s.opts.Horizon
		s.transition(HorizonReached)
		return Event{Time: s.time, Tau: tau, Lambda: lambda, Status: s.status}, nil
	}

	ch, err := s.selectChannel(s.rng.Float64() * lambda)
	if err != nil {
		s.err = err
		return Event{}, err
	}
	if err := s.catalog.Apply(s.state, ch); err != nil {
		s.err = fmt.Errorf("%w: event %d %v: %w", ErrInconsistent, s.events+1, ch, err)
		s.logger.Error("simulation fault", "event", s.events+1, "channel", ch.String(), "error", err)
		return Event{}, s.err
	}

	s.time += tau
	s.events++

	if s.opts.FullRescan {
		s.rescanAll()
	} else {
		for _, site := range s.catalog.Affected(ch) {
			s.siteTotals[site] = s.catalog.SiteTotal(s.state, site)
		}
		s.lambda = sumTotals(s.siteTotals)
	}

	ev := Event{
		Seq:     s.events,
		Time:    s.time,
		Tau:     tau,
		Lambda:  lambda,
		Channel: ch,
		Applied: true,
		Status:  s.status,
	}
	if s.opts.Registry != nil {
		ev.Agents = s.agentsFor(ch)
	}
	s.observe(ev)
	return ev, nil
}

// Run steps until the scheduler reaches a terminal state. obs, if non-nil,
// receives the initial sample, a sample whenever simulated time crosses a
// record mark, and the terminal sample. The context is checked between
// events; an applied event is never interrupted.
func (s *Scheduler) Run(ctx context.Context, obs Observer) (Status, error) {
	if obs != nil && s.status == Idle {
		obs.Observe(s.Sample())
	}
	s.logger.Info("simulation started",
		"sites", s.state.Len(),
		"cells", s.state.TotalCells(),
		"horizon", s.opts.Horizon,
		"full_rescan", s.opts.FullRescan)

	for {
		if s.events%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return s.status, err
			}
		}
		ev, err := s.Step()
		if err != nil {
			return s.status, err
		}
		if !ev.Applied {
			break
		}
		if obs != nil && s.time >= s.nextRecord {
			obs.Observe(s.Sample())
			s.nextRecord = s.advanceRecordMark(s.time)
		}
	}

	if obs != nil {
		obs.Observe(s.Sample())
	}
	s.logger.Info("simulation finished",
		"status", s.status.String(),
		"time", s.time,
		"events", s.events,
		"cells", s.state.TotalCells())
	return s.status, nil
}

// selectChannel locates the site whose cumulative total first exceeds u,
// then the channel inside it.
func (s *Scheduler) selectChannel(u float64) (reaction.Channel, error) {
	cum := 0.0
	last := -1
	for site, total := range s.siteTotals {
		if total <= 0 {
			continue
		}
		last = site
		if cum+total > u {
			if ch, ok := s.catalog.Select(s.state, site, u-cum); ok {
				return ch, nil
			}
		}
		cum += total
	}
	// Rounding can leave u at the very top of the range.
	if last >= 0 {
		if ch, ok := s.catalog.Select(s.state, last, s.siteTotals[last]); ok {
			return ch, nil
		}
	}
	return reaction.Channel{}, fmt.Errorf("%w: no channel found for u=%v with lambda=%v", ErrInconsistent, u, s.lambda)
}

func (s *Scheduler) rescanAll() {
	for site := range s.siteTotals {
		s.siteTotals[site] = s.catalog.SiteTotal(s.state, site)
	}
	s.lambda = sumTotals(s.siteTotals)
}

// sumTotals adds site totals in site order so both rescan modes agree bit for bit.
func sumTotals(totals []float64) float64 {
	sum := 0.0
	for _, t := range totals {
		sum += t
	}
	return sum
}

func (s *Scheduler) transition(to Status) {
	from := s.status
	s.status = to
	if to.Terminal() {
		s.lambda = sumTotals(s.siteTotals)
	}
	s.logger.Debug("scheduler transition", "from", from.String(), "to", to.String(), "time", s.time, "events", s.events)
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveStatus(to)
	}
}

func (s *Scheduler) advanceRecordMark(t float64) float64 {
	if s.opts.RecordInterval == 0 {
		return t
	}
	return (math.Floor(t/s.opts.RecordInterval) + 1) * s.opts.RecordInterval
}

// agentsFor resolves the canonical agents an event touched.
func (s *Scheduler) agentsFor(ch reaction.Channel) []*registry.Agent {
	reg := s.opts.Registry
	switch ch.Kind {
	case reaction.Mutation:
		return []*registry.Agent{reg.Cell(ch.Site, ch.Phenotype), reg.Cell(ch.Site, ch.Into)}
	case reaction.CellMigration:
		return []*registry.Agent{reg.Cell(ch.Site, ch.Phenotype), reg.Cell(ch.Target, ch.Phenotype)}
	case reaction.DrugDiffusion:
		return []*registry.Agent{reg.Drug(ch.Site, ch.Drug), reg.Drug(ch.Target, ch.Drug)}
	case reaction.DrugUptake, reaction.DrugDecay:
		return []*registry.Agent{reg.Drug(ch.Site, ch.Drug)}
	default:
		return []*registry.Agent{reg.Cell(ch.Site, ch.Phenotype)}
	}
}

func (s *Scheduler) observe(ev Event) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveEvent(ev.Channel.Kind)
		s.opts.Metrics.ObserveState(s.time, s.lambda, s.state.TotalCells())
	}
	if s.opts.EventLog != nil {
		s.opts.EventLog.Log(logging.Reaction{
			Seq:     ev.Seq,
			SimTime: ev.Time,
			Tau:     ev.Tau,
			Lambda:  ev.Lambda,
			Channel: ev.Channel.Kind.String(),
			Site:    ev.Channel.Site,
			Detail:  ev.Channel.String(),
		})
	}
	if s.logger.Enabled(context.Background(), logging.LevelTrace) {
		s.logger.Log(context.Background(), logging.LevelTrace, "reaction event",
			"seq", ev.Seq, "time", ev.Time, "channel", ev.Channel.String())
	}
	if s.events%100_000 == 0 {
		s.logger.Debug("simulation progress", "events", s.events, "time", s.time, "lambda", s.lambda)
	}
}
