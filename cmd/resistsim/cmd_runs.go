package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ensembleID, _ := cmd.Flags().GetString("ensemble")
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			runs, err := rs.ListRuns(cmd.Context(), store.RunFilter{EnsembleID: ensembleID, Status: status, Limit: limit})
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENSEMBLE\tSEED\tSTATUS\tTIME\tEVENTS\tSTARTED")
			for _, r := range runs {
				ens := "-"
				if r.EnsembleID != "" {
					ens = shortID(r.EnsembleID) + fmt.Sprintf("/%d", r.Replicate)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.3f\t%d\t%s\n",
					r.ID, ens, r.Seed, r.Status, r.FinalTime, r.Events, r.StartedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("ensemble", "", "Only runs of this ensemble")
	cmd.Flags().String("status", "", "Only runs in this status")
	cmd.Flags().Int("limit", 50, "Maximum number of runs")

	cmd.AddCommand(newRunsDeleteCmd())
	return cmd
}

func newRunsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete stored runs and their trajectories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			for _, id := range args {
				if err := rs.DeleteRun(cmd.Context(), id); err != nil {
					return fmt.Errorf("delete run %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}

// shortID abbreviates a UUID for tables.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
