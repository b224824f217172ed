package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/config"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/logging"
	"github.com/nvandessel/resistsim/internal/mcp"
	"github.com/nvandessel/resistsim/internal/metrics"
	"github.com/nvandessel/resistsim/internal/store"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "resistsim",
		Short: "Stochastic simulation of drug resistance on a spatial lattice",
		Long: `resistsim simulates a population of cells growing on a lattice of sites
under two drugs, with mutation to resistant phenotypes, migration between
neighboring sites, and drug diffusion, uptake and decay.

Runs use the Gillespie direct method and are reproducible from a seed.
Trajectories are stored in ~/.resistsim/runs.db by default.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.resistsim/config.yaml)")
	rootCmd.PersistentFlags().String("dir", "", "Output directory for the run store and logs")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newEnsembleCmd(),
		newLatticeCmd(),
		newExportCmd(),
		newRunsCmd(),
		newViewCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "resistsim version %s\n", version)
			}
		},
	}
}

// loadConfig resolves the configuration for a command: the --config file
// or the default locations, then the --dir and --log-level overrides.
func loadConfig(cmd *cobra.Command) (*config.SimConfig, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.SimConfig
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		cfg.Output.Dir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.SimConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

func openRunStore(cfg *config.SimConfig) (*store.SQLiteRunStore, error) {
	rs, err := store.NewSQLiteRunStore(cfg.RunsDBPath())
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return rs, nil
}

// startMetrics serves /metrics on cfg.Metrics.Addr until ctx ends. It
// returns nil metrics when no address is configured.
func startMetrics(ctx context.Context, cfg *config.SimConfig, logger *slog.Logger) engine.Metrics {
	if cfg.Metrics.Addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)
	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logger); err != nil {
			logger.Error("metrics endpoint stopped", "error", err)
		}
	}()
	return collector
}

func newMCPServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Run the MCP server over stdio",
		Long: `Start a Model Context Protocol server on stdin/stdout exposing the
resistsim_simulate, resistsim_lattice and resistsim_runs tools.

Tool calls start from the loaded configuration. Simulated replicates are
stored in the run store unless --no-store is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			noStore, _ := cmd.Flags().GetBool("no-store")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries the protocol; logs go to stderr.
			logger := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			serverCfg := &mcp.Config{
				Name:     "resistsim",
				Version:  version,
				Base:     cfg,
				AuditDir: cfg.Output.Dir,
				Metrics:  startMetrics(ctx, cfg, logger),
				Logger:   logger,
			}
			if !noStore {
				rs, err := openRunStore(cfg)
				if err != nil {
					return err
				}
				serverCfg.Store = rs
			}

			server, err := mcp.NewServer(serverCfg)
			if err != nil {
				if serverCfg.Store != nil {
					serverCfg.Store.Close()
				}
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			return server.Run(ctx)
		},
	}
	cmd.Flags().Bool("no-store", false, "Do not persist simulated runs")
	return cmd
}
