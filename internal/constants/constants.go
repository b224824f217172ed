// Package constants provides named defaults used throughout resistsim.
// This centralizes magic numbers for better maintainability and documentation.
package constants

// Lattice defaults describe the reference 3x3 scenario.
const (
	// DefaultRows is the number of lattice rows.
	DefaultRows = 3

	// DefaultCols is the number of lattice columns.
	DefaultCols = 3

	// DefaultSiteCapacity is the maximum number of cells a site can hold.
	DefaultSiteCapacity = 100
)

// Initial population defaults.
const (
	// DefaultInitialCells is the number of non-resistant cells seeded before the first event.
	DefaultInitialCells = 800

	// DefaultInitialDrug is the quantity of each drug kind seeded before the first event.
	DefaultInitialDrug = 200.0
)

// Cell rate defaults (per cell, per unit simulated time).
const (
	DefaultNonResistantBirthRate = 1.1
	DefaultNonResistantDeathRate = 1.0
	DefaultResistantBirthRate    = 1.05
	DefaultResistantDeathRate    = 1.0

	// DefaultMutationRate is the total rate at which one cell gains a
	// resistance it lacks, split evenly across the reachable phenotypes.
	DefaultMutationRate = 0.001

	// DefaultMigrationRate is the per-cell rate of moving to one given neighbor.
	DefaultMigrationRate = 0.1
)

// Drug rate defaults (per unit of drug, per unit simulated time).
const (
	DefaultDiffusionRate = 0.1
	DefaultUptakeRate    = 0.001
	DefaultDecayRate     = 0.01

	// DefaultDrugPotency is the death-rate increase per unit of an
	// unresisted drug at a site.
	DefaultDrugPotency = 0.001

	// DefaultDrugQuantum is the drug amount one drug event moves or removes.
	DefaultDrugQuantum = 1.0
)

// Run defaults.
const (
	// DefaultHorizon is the simulated time at which a run stops.
	DefaultHorizon = 50.0

	// DefaultSeed seeds the random source when none is configured.
	DefaultSeed = 1

	// DefaultRecordInterval is the simulated time between recorded samples.
	DefaultRecordInterval = 0.5

	// DefaultReplicates is the ensemble size used by the ensemble command.
	DefaultReplicates = 16
)

// Storage and output defaults.
const (
	// DefaultDirName is the per-user directory holding config, runs and logs.
	DefaultDirName = ".resistsim"

	// ConfigFileName is the config file inside DefaultDirName.
	ConfigFileName = "config.yaml"

	// RunsDBName is the SQLite trajectory store inside the output directory.
	RunsDBName = "runs.db"

	// EventLogName is the JSONL reaction event trace inside the output directory.
	EventLogName = "events.jsonl"
)

// MCP server limits.
const (
	// MaxToolSites caps the lattice size a single MCP simulate call may request.
	MaxToolSites = 400

	// MaxToolHorizon caps the horizon a single MCP simulate call may request.
	MaxToolHorizon = 500.0

	// MaxToolReplicates caps the ensemble size of a single MCP simulate call.
	MaxToolReplicates = 64

	// MaxToolCapacity caps the summed site capacity of a single MCP simulate
	// call, which bounds its cell population.
	MaxToolCapacity = 100_000

	// MaxToolDrugQuanta caps the initial drug of a single MCP simulate call,
	// in drug quanta per kind.
	MaxToolDrugQuanta = 1_000_000

	// AuditLogName is the JSONL log of MCP tool calls inside the output directory.
	AuditLogName = "audit.jsonl"
)
