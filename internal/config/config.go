// Package config provides unified configuration loading for resistsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/resistsim/internal/constants"
	"github.com/nvandessel/resistsim/internal/lattice"
	"github.com/nvandessel/resistsim/internal/population"
	"github.com/nvandessel/resistsim/internal/reaction"
)

// SimConfig contains every setting of a simulation run.
type SimConfig struct {
	// Lattice describes the site graph.
	Lattice LatticeConfig `json:"lattice" yaml:"lattice"`

	// Initial describes the population placed before the first event.
	Initial InitialConfig `json:"initial" yaml:"initial"`

	// Rates holds the reaction rate constants.
	Rates RatesConfig `json:"rates" yaml:"rates"`

	// Run controls the scheduler.
	Run RunConfig `json:"run" yaml:"run"`

	// Logging contains settings for operational and event logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Output controls where runs, checkpoints and traces are written.
	Output OutputConfig `json:"output" yaml:"output"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// LatticeConfig describes a rectangular grid.
type LatticeConfig struct {
	Rows     int `json:"rows" yaml:"rows" validate:"gt=0"`
	Cols     int `json:"cols" yaml:"cols" validate:"gt=0"`
	Capacity int `json:"capacity" yaml:"capacity" validate:"gt=0"`

	// Neighborhood is "von-neumann" (default) or "moore".
	Neighborhood string `json:"neighborhood" yaml:"neighborhood" validate:"omitempty,oneof=von-neumann moore"`

	// Periodic wraps the grid edges into a torus.
	Periodic bool `json:"periodic" yaml:"periodic"`
}

// InitialConfig describes the initial population.
type InitialConfig struct {
	// Cells is the number of non-resistant cells.
	Cells int `json:"cells" yaml:"cells" validate:"gt=0"`

	// Drug is the quantity of each drug kind.
	Drug float64 `json:"drug" yaml:"drug" validate:"gt=0"`

	// Placement is "uniform" (default), "proportional" or "localized".
	Placement string `json:"placement" yaml:"placement" validate:"omitempty,oneof=uniform proportional localized"`

	// SeedSite is the origin site for localized placement.
	SeedSite int `json:"seed_site" yaml:"seed_site" validate:"gte=0"`
}

// RatesConfig holds the reaction rate constants.
type RatesConfig struct {
	NonResistantBirth float64 `json:"non_resistant_birth_rate" yaml:"non_resistant_birth_rate" validate:"gt=0"`
	NonResistantDeath float64 `json:"non_resistant_death_rate" yaml:"non_resistant_death_rate" validate:"gt=0"`
	ResistantBirth    float64 `json:"resistant_birth_rate" yaml:"resistant_birth_rate" validate:"gt=0"`
	ResistantDeath    float64 `json:"resistant_death_rate" yaml:"resistant_death_rate" validate:"gt=0"`
	Mutation          float64 `json:"mutation_rate" yaml:"mutation_rate" validate:"gt=0"`
	Migration         float64 `json:"migration_rate" yaml:"migration_rate" validate:"gte=0"`
	Diffusion         float64 `json:"diffusion_rate" yaml:"diffusion_rate" validate:"gte=0"`
	Uptake            float64 `json:"uptake_rate" yaml:"uptake_rate" validate:"gte=0"`
	Decay             float64 `json:"decay_rate" yaml:"decay_rate" validate:"gte=0"`
	DrugPotency       float64 `json:"drug_potency" yaml:"drug_potency" validate:"gte=0"`
	DrugQuantum       float64 `json:"drug_quantum" yaml:"drug_quantum" validate:"gt=0"`
}

// RunConfig controls the scheduler and the ensemble runner.
type RunConfig struct {
	Horizon        float64 `json:"horizon" yaml:"horizon" validate:"gt=0"`
	Seed           uint64  `json:"seed" yaml:"seed"`
	RecordInterval float64 `json:"record_interval" yaml:"record_interval" validate:"gte=0"`

	// FullRescan recomputes every site's propensity after each event.
	FullRescan bool `json:"full_rescan" yaml:"full_rescan"`

	// Replicates is the ensemble size; replicate i uses seed Seed+i.
	Replicates int `json:"replicates" yaml:"replicates" validate:"gte=1"`

	// Workers bounds concurrent replicates. Zero means one per CPU.
	Workers int `json:"workers" yaml:"workers" validate:"gte=0"`
}

// LoggingConfig configures resistsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables the reaction event trace in <output.dir>/events.jsonl.
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=info debug trace"`
}

// OutputConfig controls persisted output.
type OutputConfig struct {
	// Dir holds runs.db and events.jsonl. Supports ${VAR} syntax.
	Dir string `json:"dir" yaml:"dir"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics, e.g. ":9090". Empty disables it.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns a SimConfig for the reference 3x3 scenario.
func Default() *SimConfig {
	return &SimConfig{
		Lattice: LatticeConfig{
			Rows:         constants.DefaultRows,
			Cols:         constants.DefaultCols,
			Capacity:     constants.DefaultSiteCapacity,
			Neighborhood: string(lattice.NeighborhoodVonNeumann),
		},
		Initial: InitialConfig{
			Cells:     constants.DefaultInitialCells,
			Drug:      constants.DefaultInitialDrug,
			Placement: string(population.PlacementUniform),
		},
		Rates: RatesConfig{
			NonResistantBirth: constants.DefaultNonResistantBirthRate,
			NonResistantDeath: constants.DefaultNonResistantDeathRate,
			ResistantBirth:    constants.DefaultResistantBirthRate,
			ResistantDeath:    constants.DefaultResistantDeathRate,
			Mutation:          constants.DefaultMutationRate,
			Migration:         constants.DefaultMigrationRate,
			Diffusion:         constants.DefaultDiffusionRate,
			Uptake:            constants.DefaultUptakeRate,
			Decay:             constants.DefaultDecayRate,
			DrugPotency:       constants.DefaultDrugPotency,
			DrugQuantum:       constants.DefaultDrugQuantum,
		},
		Run: RunConfig{
			Horizon:        constants.DefaultHorizon,
			Seed:           constants.DefaultSeed,
			RecordInterval: constants.DefaultRecordInterval,
			Replicates:     constants.DefaultReplicates,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			Dir: constants.DefaultDirName,
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.resistsim/config.yaml -> environment variables
func Load() (*SimConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, constants.DefaultDirName, constants.ConfigFileName)
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys absent
// from the file keep their defaults.
func LoadFromFile(path string) (*SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Output.Dir = expandEnvVars(config.Output.Dir)

	return config, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML key so errors match the config file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that the configuration describes a runnable simulation.
// Every failure wraps reaction.ErrInvalidParameter.
func (c *SimConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s must satisfy %s, got %v", reaction.ErrInvalidParameter, fieldPath(fe.Namespace()), constraint(fe), fe.Value())
		}
		return fmt.Errorf("%w: %v", reaction.ErrInvalidParameter, err)
	}

	sites := c.Lattice.Rows * c.Lattice.Cols
	if c.Initial.SeedSite >= sites {
		return fmt.Errorf("%w: initial.seed_site %d outside lattice of %d sites", reaction.ErrInvalidParameter, c.Initial.SeedSite, sites)
	}
	if room := sites * c.Lattice.Capacity; c.Initial.Cells > room {
		return fmt.Errorf("%w: initial.cells %d exceeds total capacity %d", reaction.ErrInvalidParameter, c.Initial.Cells, room)
	}

	// Catches Inf, which the struct tags accept.
	if err := c.Params().Validate(); err != nil {
		return err
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func constraint(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Params converts the rate section into the reaction catalog's parameters.
func (c *SimConfig) Params() reaction.Params {
	r := c.Rates
	return reaction.Params{
		NonResistantBirth: r.NonResistantBirth,
		NonResistantDeath: r.NonResistantDeath,
		ResistantBirth:    r.ResistantBirth,
		ResistantDeath:    r.ResistantDeath,
		MutationRate:      r.Mutation,
		MigrationRate:     r.Migration,
		DiffusionRate:     r.Diffusion,
		UptakeRate:        r.Uptake,
		DecayRate:         r.Decay,
		DrugPotency:       r.DrugPotency,
		DrugQuantum:       r.DrugQuantum,
	}
}

// GridOptions converts the lattice section into grid options.
func (c *SimConfig) GridOptions() (lattice.GridOptions, error) {
	nb, err := lattice.ParseNeighborhood(c.Lattice.Neighborhood)
	if err != nil {
		return lattice.GridOptions{}, err
	}
	return lattice.GridOptions{
		Rows:         c.Lattice.Rows,
		Cols:         c.Lattice.Cols,
		Capacity:     c.Lattice.Capacity,
		Neighborhood: nb,
		Periodic:     c.Lattice.Periodic,
	}, nil
}

// Grid builds the configured lattice.
func (c *SimConfig) Grid() (*lattice.Grid, error) {
	opts, err := c.GridOptions()
	if err != nil {
		return nil, err
	}
	return lattice.NewGrid(opts)
}

// Placement returns the configured placement policy.
func (c *SimConfig) Placement() (population.Placement, error) {
	return population.ParsePlacement(c.Initial.Placement)
}

// InitialConditions converts the initial section for population.Seed.
func (c *SimConfig) InitialConditions() population.InitialConditions {
	ic := population.InitialConditions{
		Cells:    c.Initial.Cells,
		SeedSite: c.Initial.SeedSite,
	}
	for i := range ic.Drug {
		ic.Drug[i] = c.Initial.Drug
	}
	return ic
}

// RunsDBPath returns the SQLite trajectory store path.
func (c *SimConfig) RunsDBPath() string {
	return filepath.Join(c.Output.Dir, constants.RunsDBName)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *SimConfig) {
	if v := os.Getenv("RESISTSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Run.Seed = n
		}
	}

	if v := os.Getenv("RESISTSIM_HORIZON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Run.Horizon = f
		}
	}

	if v := os.Getenv("RESISTSIM_REPLICATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Replicates = n
		}
	}

	if v := os.Getenv("RESISTSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Run.Workers = n
		}
	}

	if v := os.Getenv("RESISTSIM_FULL_RESCAN"); v != "" {
		config.Run.FullRescan = v == "true" || v == "1"
	}

	if v := os.Getenv("RESISTSIM_OUTPUT_DIR"); v != "" {
		config.Output.Dir = v
	}

	if v := os.Getenv("RESISTSIM_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}

	if v := os.Getenv("RESISTSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
