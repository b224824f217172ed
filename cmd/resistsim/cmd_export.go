package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/export"
	"github.com/nvandessel/resistsim/internal/store"
	"github.com/nvandessel/resistsim/internal/visualization"
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [run-id...]",
		Short: "Export stored trajectories",
		Long: `Export recorded trajectories from the run store.

Formats:
  arrow  Arrow IPC file with one row per site per sample
  jsonl  one JSON line per sample (default; written to stdout without -o)
  png    line chart of cell counts per phenotype (single run)

Examples:
  resistsim export 0b7c... -o run.jsonl
  resistsim export --ensemble 5e21... --format arrow -o ensemble.arrow
  resistsim export 0b7c... --format png -o run.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			ensembleID, _ := cmd.Flags().GetString("ensemble")

			if len(args) == 0 && ensembleID == "" {
				return fmt.Errorf("give at least one run ID or --ensemble")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			ctx := cmd.Context()
			runIDs := args
			if ensembleID != "" {
				runs, err := rs.ListRuns(ctx, store.RunFilter{EnsembleID: ensembleID})
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				if len(runs) == 0 {
					return fmt.Errorf("no runs in ensemble %s", ensembleID)
				}
				// ListRuns is newest first; export in replicate order.
				for i := len(runs) - 1; i >= 0; i-- {
					runIDs = append(runIDs, runs[i].ID)
				}
			}

			trajectories := make([]export.Trajectory, 0, len(runIDs))
			for _, id := range runIDs {
				samples, err := rs.Samples(ctx, id)
				if err != nil {
					return fmt.Errorf("load run %s: %w", id, err)
				}
				trajectories = append(trajectories, export.Trajectory{RunID: id, Samples: samples})
			}

			if format == string(visualization.FormatPNG) {
				if len(trajectories) != 1 {
					return fmt.Errorf("png export charts one run, got %d", len(trajectories))
				}
				if output == "" {
					return fmt.Errorf("png export needs --output")
				}
				return writeFile(output, func(w io.Writer) error {
					return visualization.RenderChart(w, trajectories[0].Samples, visualization.ChartOptions{
						Title: "Run " + trajectories[0].RunID,
					})
				})
			}

			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			encode := func(w io.Writer) error {
				return export.WriteJSONL(w, trajectories...)
			}

			switch {
			case f == export.FormatArrow && output == "":
				return fmt.Errorf("arrow export needs --output")
			case f == export.FormatArrow:
				if err := export.WriteArrowFile(output, trajectories...); err != nil {
					return err
				}
			case output == "":
				return encode(cmd.OutOrStdout())
			default:
				if err := writeFile(output, encode); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d run(s) to %s\n", len(trajectories), output)
			return nil
		},
	}

	cmd.Flags().String("format", "jsonl", "Export format: arrow, jsonl or png")
	cmd.Flags().StringP("output", "o", "", "Output file path")
	cmd.Flags().String("ensemble", "", "Export every run of this ensemble")
	return cmd
}

// writeFile creates path and hands a buffered writer to fn.
func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
