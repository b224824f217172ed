package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/constants"
	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/ratelimit"
	"github.com/nvandessel/resistsim/internal/store"
	"github.com/nvandessel/resistsim/internal/visualization"
)

// errNoStore is returned by tools that need a run store when none is configured.
var errNoStore = errors.New("no run store configured; start the server with an output directory")

// registerTools registers all resistsim MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "resistsim_simulate",
		Description: "Run a stochastic simulation of drug resistance on a spatial lattice and summarize the outcome of each replicate",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "resistsim_lattice",
		Description: "Render the lattice and its per-site population in DOT (Graphviz) or JSON format",
	}, s.handleLattice)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "resistsim_runs",
		Description: "List stored simulation runs, newest first",
	}, s.handleRuns)
}

// configFor applies o to a copy of the base configuration, validates the
// result, and checks it against the per-call limits.
func (s *Server) configFor(o Overrides) (*config.SimConfig, error) {
	cfg := *s.base
	if o.Rows > 0 {
		cfg.Lattice.Rows = o.Rows
	}
	if o.Cols > 0 {
		cfg.Lattice.Cols = o.Cols
	}
	if o.Capacity > 0 {
		cfg.Lattice.Capacity = o.Capacity
	}
	if o.Neighborhood != "" {
		cfg.Lattice.Neighborhood = o.Neighborhood
	}
	if o.Periodic {
		cfg.Lattice.Periodic = true
	}
	if o.Cells > 0 {
		cfg.Initial.Cells = o.Cells
	}
	if o.Drug > 0 {
		cfg.Initial.Drug = o.Drug
	}
	if o.Placement != "" {
		cfg.Initial.Placement = o.Placement
	}
	if o.Seed > 0 {
		cfg.Run.Seed = o.Seed
	}
	if o.Horizon > 0 {
		cfg.Run.Horizon = o.Horizon
	}
	if o.Mutation > 0 {
		cfg.Rates.Mutation = o.Mutation
	}
	if o.DrugPotency > 0 {
		cfg.Rates.DrugPotency = o.DrugPotency
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sites := cfg.Lattice.Rows * cfg.Lattice.Cols; sites > constants.MaxToolSites {
		return nil, fmt.Errorf("lattice of %d sites exceeds the limit of %d", sites, constants.MaxToolSites)
	}
	if total := int64(cfg.Lattice.Rows*cfg.Lattice.Cols) * int64(cfg.Lattice.Capacity); total > constants.MaxToolCapacity {
		return nil, fmt.Errorf("total capacity of %d cells exceeds the limit of %d", total, constants.MaxToolCapacity)
	}
	if quanta := cfg.Initial.Drug / cfg.Rates.DrugQuantum; quanta > constants.MaxToolDrugQuanta {
		return nil, fmt.Errorf("initial drug of %g quanta exceeds the limit of %d", quanta, constants.MaxToolDrugQuanta)
	}
	if cfg.Run.Horizon > constants.MaxToolHorizon {
		return nil, fmt.Errorf("horizon %g exceeds the limit of %g", cfg.Run.Horizon, constants.MaxToolHorizon)
	}
	return &cfg, nil
}

// handleSimulate implements the resistsim_simulate tool.
func (s *Server) handleSimulate(ctx context.Context, req *sdk.CallToolRequest, args SimulateInput) (_ *sdk.CallToolResult, _ SimulateOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("resistsim_simulate", start, retErr, toolParams(map[string]interface{}{
			"rows":       args.Config.Rows,
			"cols":       args.Config.Cols,
			"horizon":    args.Config.Horizon,
			"seed":       args.Config.Seed,
			"replicates": args.Replicates,
		}))
	}()

	cfg, err := s.configFor(args.Config)
	if err != nil {
		return nil, SimulateOutput{}, err
	}
	replicates := args.Replicates
	if replicates <= 0 {
		replicates = 1
	}
	if replicates > constants.MaxToolReplicates {
		return nil, SimulateOutput{}, fmt.Errorf("%d replicates exceeds the limit of %d", replicates, constants.MaxToolReplicates)
	}
	if err := ratelimit.CheckLimit(s.toolLimiters, "resistsim_simulate", ratelimit.SimulateCost(replicates)); err != nil {
		return nil, SimulateOutput{}, err
	}

	report, err := ensemble.Run(ctx, ensemble.Options{
		Config:     cfg,
		Replicates: replicates,
		Registry:   s.registry,
		Logger:     s.logger,
		Metrics:    s.metrics,
		Store:      s.store,
	})
	if err != nil {
		return nil, SimulateOutput{}, fmt.Errorf("simulation failed: %w", err)
	}

	out := SimulateOutput{
		EnsembleID: report.ID,
		Sites:      cfg.Lattice.Rows * cfg.Lattice.Cols,
		Horizon:    cfg.Run.Horizon,
		Replicates: make([]ReplicateSummary, 0, len(report.Results)),
		Summary:    report.Summary,
		ElapsedMs:  report.Elapsed.Milliseconds(),
	}
	for _, r := range report.Results {
		out.Replicates = append(out.Replicates, ReplicateSummary{
			Replicate:      r.Replicate,
			Seed:           r.Seed,
			RunID:          r.RunID,
			Status:         r.Status.String(),
			FinalTime:      r.FinalTime,
			Events:         r.Events,
			Cells:          r.Cells,
			ResistantCells: r.Final.ResistantCells(),
			ResistantShare: r.Share,
			Extinct:        r.Extinct,
		})
	}
	out.Message = fmt.Sprintf("%d replicate(s) on %d sites to t=%g: pooled resistant share %.4f, %d extinct",
		replicates, out.Sites, cfg.Run.Horizon, report.Summary.PooledResistantShare, report.Summary.Extinctions)
	return nil, out, nil
}

// handleLattice implements the resistsim_lattice tool.
func (s *Server) handleLattice(ctx context.Context, req *sdk.CallToolRequest, args LatticeInput) (_ *sdk.CallToolResult, _ LatticeOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("resistsim_lattice", start, retErr, toolParams(map[string]interface{}{
			"format": args.Format,
			"rows":   args.Config.Rows,
			"cols":   args.Config.Cols,
			"run_id": args.RunID,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "resistsim_lattice", 1); err != nil {
		return nil, LatticeOutput{}, err
	}

	format := args.Format
	if format == "" {
		format = string(visualization.FormatJSON)
	}

	var (
		g    lattice.Graph
		snap population.Snapshot
		err  error
	)
	if args.RunID != "" {
		g, snap, err = s.storedLattice(ctx, args.RunID)
	} else {
		g, snap, err = s.seededLattice(args.Config)
	}
	if err != nil {
		return nil, LatticeOutput{}, err
	}
	edges := len(visualization.Edges(g))

	switch visualization.Format(format) {
	case visualization.FormatDOT:
		dot, err := visualization.RenderDOT(g, snap)
		if err != nil {
			return nil, LatticeOutput{}, fmt.Errorf("render DOT: %w", err)
		}
		return nil, LatticeOutput{Format: "dot", Graph: dot, SiteCount: g.Len(), EdgeCount: edges}, nil

	case visualization.FormatJSON:
		result, err := visualization.RenderJSON(g, snap)
		if err != nil {
			return nil, LatticeOutput{}, fmt.Errorf("render JSON: %w", err)
		}
		return nil, LatticeOutput{Format: "json", Graph: result, SiteCount: g.Len(), EdgeCount: edges}, nil

	default:
		return nil, LatticeOutput{}, fmt.Errorf("unsupported format %q (valid: dot, json)", format)
	}
}

func (s *Server) seededLattice(o Overrides) (lattice.Graph, population.Snapshot, error) {
	cfg, err := s.configFor(o)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	grid, err := cfg.Grid()
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	sched, err := ensemble.Build(cfg, ensemble.BuildOptions{Seed: cfg.Run.Seed})
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	return grid, sched.Snapshot(), nil
}

func (s *Server) storedLattice(ctx context.Context, runID string) (lattice.Graph, population.Snapshot, error) {
	if s.store == nil {
		return nil, population.Snapshot{}, errNoStore
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	g, err := ensemble.LatticeOf(run)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	samples, err := s.store.Samples(ctx, runID)
	if err != nil {
		return nil, population.Snapshot{}, err
	}
	if len(samples) == 0 {
		return nil, population.Snapshot{}, fmt.Errorf("run %s has no recorded samples", runID)
	}
	return g, samples[len(samples)-1].Snapshot, nil
}

// handleRuns implements the resistsim_runs tool.
func (s *Server) handleRuns(ctx context.Context, req *sdk.CallToolRequest, args RunsInput) (_ *sdk.CallToolResult, _ RunsOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.auditTool("resistsim_runs", start, retErr, toolParams(map[string]interface{}{
			"ensemble_id": args.EnsembleID,
			"status":      args.Status,
			"limit":       args.Limit,
		}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, "resistsim_runs", 1); err != nil {
		return nil, RunsOutput{}, err
	}
	if s.store == nil {
		return nil, RunsOutput{}, errNoStore
	}

	limit := args.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.store.ListRuns(ctx, store.RunFilter{EnsembleID: args.EnsembleID, Status: args.Status, Limit: limit})
	if err != nil {
		return nil, RunsOutput{}, fmt.Errorf("list runs: %w", err)
	}

	items := make([]RunListItem, 0, len(runs))
	for _, r := range runs {
		items = append(items, RunListItem{
			ID:         r.ID,
			EnsembleID: r.EnsembleID,
			Replicate:  r.Replicate,
			Seed:       r.Seed,
			Status:     r.Status,
			FinalTime:  r.FinalTime,
			Events:     r.Events,
			StartedAt:  r.StartedAt,
		})
	}
	return nil, RunsOutput{Runs: items, Count: len(items)}, nil
}
