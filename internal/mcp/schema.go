// Package mcp provides an MCP (Model Context Protocol) server for resistsim.
package mcp

import (
	"time"

	"github.com/nvandessel/resistsim/internal/ensemble"
)

// Overrides adjusts the server's base configuration for one call. Zero
// values keep the base setting.
type Overrides struct {
	Rows         int     `json:"rows,omitempty" jsonschema:"Lattice rows"`
	Cols         int     `json:"cols,omitempty" jsonschema:"Lattice columns"`
	Capacity     int     `json:"capacity,omitempty" jsonschema:"Cell capacity of every site"`
	Neighborhood string  `json:"neighborhood,omitempty" jsonschema:"Neighbor rule: von-neumann or moore"`
	Periodic     bool    `json:"periodic,omitempty" jsonschema:"Wrap lattice edges into a torus"`
	Cells        int     `json:"cells,omitempty" jsonschema:"Initial non-resistant cells"`
	Drug         float64 `json:"drug,omitempty" jsonschema:"Initial quantity of each drug"`
	Placement    string  `json:"placement,omitempty" jsonschema:"Initial placement: uniform, proportional or localized"`
	Seed         uint64  `json:"seed,omitempty" jsonschema:"Random seed of the first replicate"`
	Horizon      float64 `json:"horizon,omitempty" jsonschema:"Simulated time at which runs stop"`
	Mutation     float64 `json:"mutation_rate,omitempty" jsonschema:"Per-cell mutation rate"`
	DrugPotency  float64 `json:"drug_potency,omitempty" jsonschema:"Death hazard added per unit of unresisted drug"`
}

// SimulateInput defines the input for the resistsim_simulate tool.
type SimulateInput struct {
	Config     Overrides `json:"config,omitempty" jsonschema:"Settings that replace the server defaults"`
	Replicates int       `json:"replicates,omitempty" jsonschema:"Number of replicates with seeds seed, seed+1, ... (default 1)"`
}

// ReplicateSummary describes one finished replicate.
type ReplicateSummary struct {
	Replicate      int     `json:"replicate"`
	Seed           uint64  `json:"seed"`
	RunID          string  `json:"run_id,omitempty" jsonschema:"Stored run ID when a run store is configured"`
	Status         string  `json:"status" jsonschema:"absorbed or horizon_reached"`
	FinalTime      float64 `json:"final_time"`
	Events         int64   `json:"events"`
	Cells          int     `json:"cells"`
	ResistantCells int     `json:"resistant_cells"`
	ResistantShare float64 `json:"resistant_share"`
	Extinct        bool    `json:"extinct"`
}

// SimulateOutput defines the output for the resistsim_simulate tool.
type SimulateOutput struct {
	EnsembleID string             `json:"ensemble_id"`
	Sites      int                `json:"sites"`
	Horizon    float64            `json:"horizon"`
	Replicates []ReplicateSummary `json:"replicates"`
	Summary    ensemble.Summary   `json:"summary"`
	ElapsedMs  int64              `json:"elapsed_ms"`
	Message    string             `json:"message" jsonschema:"Human-readable summary"`
}

// LatticeInput defines the input for the resistsim_lattice tool.
type LatticeInput struct {
	Config Overrides `json:"config,omitempty" jsonschema:"Settings that replace the server defaults"`
	Format string    `json:"format,omitempty" jsonschema:"Output format: dot or json (default json)"`
	RunID  string    `json:"run_id,omitempty" jsonschema:"Render the final population of a stored run instead of a freshly seeded lattice"`
}

// LatticeOutput defines the output for the resistsim_lattice tool.
type LatticeOutput struct {
	Format    string      `json:"format"`
	Graph     interface{} `json:"graph" jsonschema:"DOT source or JSON lattice description"`
	SiteCount int         `json:"site_count"`
	EdgeCount int         `json:"edge_count"`
}

// RunsInput defines the input for the resistsim_runs tool.
type RunsInput struct {
	EnsembleID string `json:"ensemble_id,omitempty" jsonschema:"Only runs of this ensemble"`
	Status     string `json:"status,omitempty" jsonschema:"Only runs in this status"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of runs (default 20)"`
}

// RunListItem provides a list view of a stored run.
type RunListItem struct {
	ID         string    `json:"id"`
	EnsembleID string    `json:"ensemble_id,omitempty"`
	Replicate  int       `json:"replicate"`
	Seed       uint64    `json:"seed"`
	Status     string    `json:"status"`
	FinalTime  float64   `json:"final_time"`
	Events     int64     `json:"events"`
	StartedAt  time.Time `json:"started_at"`
}

// RunsOutput defines the output for the resistsim_runs tool.
type RunsOutput struct {
	Runs  []RunListItem `json:"runs"`
	Count int           `json:"count"`
}
