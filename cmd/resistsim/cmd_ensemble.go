package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/logging"
)

func newEnsembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ensemble",
		Short: "Run independent replicates and summarize them",
		Long: `Run replicates of one configuration concurrently. Replicate i uses seed
run.seed+i, so an ensemble is reproducible whatever the worker count.

Examples:
  resistsim ensemble --replicates 64
  resistsim ensemble --replicates 8 --workers 2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			noStore, _ := cmd.Flags().GetBool("no-store")
			replicates, _ := cmd.Flags().GetInt("replicates")
			workers, _ := cmd.Flags().GetInt("workers")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applySimFlags(cmd, cfg); err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			events := logging.NewEventLogger(cfg.Output.Dir, cfg.Logging.Level)
			defer events.Close()

			opts := ensemble.Options{
				Config:     cfg,
				Replicates: replicates,
				Workers:    workers,
				Logger:     logger,
				Metrics:    startMetrics(ctx, cfg, logger),
				Events:     events,
			}
			if !noStore {
				rs, err := openRunStore(cfg)
				if err != nil {
					return err
				}
				defer rs.Close()
				opts.Store = rs
			}

			report, err := ensemble.Run(ctx, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			fmt.Fprintf(out, "Ensemble %s: %d replicates in %s\n\n", report.ID, report.Summary.Replicates, report.Elapsed.Round(time.Millisecond))
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REPLICATE\tSEED\tSTATUS\tTIME\tEVENTS\tCELLS\tRESISTANT")
			for _, r := range report.Results {
				fmt.Fprintf(w, "%d\t%d\t%s\t%.3f\t%d\t%d\t%.4f\n",
					r.Replicate, r.Seed, r.Status, r.FinalTime, r.Events, r.Cells, r.Share)
			}
			w.Flush()

			s := report.Summary
			fmt.Fprintln(out)
			statuses := make([]string, 0, len(s.Statuses))
			for name := range s.Statuses {
				statuses = append(statuses, name)
			}
			sort.Strings(statuses)
			for _, name := range statuses {
				fmt.Fprintf(out, "  %-22s %d\n", name+":", s.Statuses[name])
			}
			fmt.Fprintf(out, "  %-22s %.4f\n", "mean resistant share:", s.MeanResistantShare)
			fmt.Fprintf(out, "  %-22s %.4f\n", "pooled resistant share:", s.PooledResistantShare)
			fmt.Fprintf(out, "  %-22s %d\n", "extinctions:", s.Extinctions)
			if s.Extinctions > 0 {
				fmt.Fprintf(out, "  %-22s %.3f\n", "mean extinction time:", s.MeanExtinctionTime)
			}
			return nil
		},
	}

	addSimFlags(cmd)
	cmd.Flags().Int("replicates", 0, "Number of replicates (default run.replicates)")
	cmd.Flags().Int("workers", 0, "Concurrent replicates (default run.workers, then GOMAXPROCS)")
	cmd.Flags().Bool("no-store", false, "Do not persist trajectories")
	return cmd
}
