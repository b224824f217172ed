package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/checkpoint"
	"github.com/nvandessel/resistsim/internal/engine"
	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/logging"
	"github.com/nvandessel/resistsim/internal/store"
)

// runSummary is what the run command reports.
type runSummary struct {
	RunID          string        `json:"run_id,omitempty"`
	Seed           uint64        `json:"seed"`
	Status         engine.Status `json:"status"`
	StartTime      float64       `json:"start_time"`
	FinalTime      float64       `json:"final_time"`
	Events         int64         `json:"events"`
	Samples        int           `json:"samples"`
	Cells          int           `json:"cells"`
	ResistantCells int           `json:"resistant_cells"`
	ResistantShare float64       `json:"resistant_share"`
	Checkpoint     string        `json:"checkpoint,omitempty"`
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one simulation",
		Long: `Run a single simulation to absorption or the horizon.

The trajectory is stored in the run store unless --no-store is given.
--checkpoint saves the final population so a later run can continue from
it with --from.

Examples:
  resistsim run --seed 7 --horizon 20
  resistsim run --checkpoint state.ckpt
  resistsim run --from state.ckpt --horizon 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			noStore, _ := cmd.Flags().GetBool("no-store")
			from, _ := cmd.Flags().GetString("from")
			ckptPath, _ := cmd.Flags().GetString("checkpoint")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var resume *ensemble.Resume
			if from != "" {
				cp, err := checkpoint.Read(from)
				if err != nil {
					return fmt.Errorf("read checkpoint: %w", err)
				}
				// The checkpoint's lattice must be rebuilt exactly.
				if len(cp.Config) > 0 {
					if err := json.Unmarshal(cp.Config, cfg); err != nil {
						return fmt.Errorf("decode checkpoint config: %w", err)
					}
				}
				if !cmd.Flags().Changed("seed") {
					cfg.Run.Seed = cp.Seed
				}
				resume = &ensemble.Resume{Snapshot: cp.Snapshot, Time: cp.Time}
			}
			if err := applySimFlags(cmd, cfg); err != nil {
				return err
			}

			logger := newLogger(cmd, cfg)
			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			events := logging.NewEventLogger(cfg.Output.Dir, cfg.Logging.Level)
			defer events.Close()

			cfgJSON, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}

			recorder := engine.NewRecorder()
			observers := engine.Observers{recorder}

			var (
				rs   *store.SQLiteRunStore
				sink *store.Sink
				summ = runSummary{Seed: cfg.Run.Seed}
			)
			if !noStore {
				rs, err = openRunStore(cfg)
				if err != nil {
					return err
				}
				defer rs.Close()

				summ.RunID, err = rs.CreateRun(ctx, store.Run{
					Seed:      cfg.Run.Seed,
					Sites:     cfg.Lattice.Rows * cfg.Lattice.Cols,
					Horizon:   cfg.Run.Horizon,
					Config:    cfgJSON,
					Status:    engine.Idle.String(),
					StartedAt: time.Now(),
				})
				if err != nil {
					return fmt.Errorf("create run: %w", err)
				}
				sink = store.NewSink(ctx, rs, summ.RunID, store.DefaultSinkBatch)
				observers = append(observers, sink)
			}

			opts := ensemble.BuildOptions{
				Seed:    cfg.Run.Seed,
				Resume:  resume,
				Logger:  logger,
				Metrics: startMetrics(ctx, cfg, logger),
			}
			if events != nil {
				tag := summ.RunID
				if tag == "" {
					tag = fmt.Sprintf("seed-%d", cfg.Run.Seed)
				}
				opts.EventLog = events.ForRun(tag)
			}

			sched, err := ensemble.Build(cfg, opts)
			if err != nil {
				return err
			}
			summ.StartTime = sched.Time()

			status, runErr := sched.Run(ctx, observers)

			// Keep what was recorded even when interrupted.
			if sink != nil {
				if err := sink.Finish(sched.Status(), sched.Time(), sched.Events()); err != nil {
					runErr = errors.Join(runErr, err)
				}
				if runErr != nil {
					logger.Warn("run stopped early", "run_id", summ.RunID, "time", sched.Time(), "samples", sink.Written())
				}
			}
			if runErr != nil {
				return runErr
			}

			final := sched.Snapshot()
			summ.Status = status
			summ.FinalTime = sched.Time()
			summ.Events = sched.Events()
			summ.Samples = recorder.Len()
			summ.Cells = final.TotalCells()
			summ.ResistantCells = final.ResistantCells()
			summ.ResistantShare = final.ResistantShare()

			if ckptPath != "" {
				err := checkpoint.Write(ckptPath, &checkpoint.Checkpoint{
					RunID:    summ.RunID,
					Seed:     cfg.Run.Seed,
					Time:     sched.Time(),
					Events:   sched.Events(),
					Status:   status.String(),
					Config:   cfgJSON,
					Snapshot: final,
				})
				if err != nil {
					return fmt.Errorf("write checkpoint: %w", err)
				}
				summ.Checkpoint = ckptPath
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(summ)
			}
			if summ.RunID != "" {
				fmt.Fprintf(out, "Run %s\n", summ.RunID)
			}
			fmt.Fprintf(out, "  status:          %s\n", summ.Status)
			fmt.Fprintf(out, "  time:            %g -> %g\n", summ.StartTime, summ.FinalTime)
			fmt.Fprintf(out, "  events:          %d\n", summ.Events)
			fmt.Fprintf(out, "  cells:           %d\n", summ.Cells)
			fmt.Fprintf(out, "  resistant share: %.4f (%d cells)\n", summ.ResistantShare, summ.ResistantCells)
			if summ.Checkpoint != "" {
				fmt.Fprintf(out, "  checkpoint:      %s\n", summ.Checkpoint)
			}
			return nil
		},
	}

	addSimFlags(cmd)
	cmd.Flags().Bool("no-store", false, "Do not persist the trajectory")
	cmd.Flags().String("checkpoint", "", "Write the final population to this checkpoint file")
	cmd.Flags().String("from", "", "Resume from the population in this checkpoint file")
	return cmd
}
