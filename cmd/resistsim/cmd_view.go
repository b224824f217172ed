package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/resistsim/internal/ensemble"
	"github.com/nvandessel/resistsim/internal/visualization"
)

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse stored runs in a local web page",
		Long: `Start a local HTTP server listing stored runs with their trajectory
charts and lattice renderings, and open it in the browser. Blocks until
Ctrl-C.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			noOpen, _ := cmd.Flags().GetBool("no-open")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			rs, err := openRunStore(cfg)
			if err != nil {
				return err
			}
			defer rs.Close()

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			srv := visualization.NewServer(rs, ensemble.LatticeOf)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(ctx) }()

			// Wait for server to start
			deadline := time.Now().Add(3 * time.Second)
			for time.Now().Before(deadline) && srv.Addr() == "" {
				select {
				case err := <-errCh:
					if err != nil {
						return fmt.Errorf("server error: %w", err)
					}
					return nil
				case <-time.After(10 * time.Millisecond):
				}
			}
			addr := srv.Addr()
			if addr == "" {
				return fmt.Errorf("server failed to start")
			}

			url := "http://" + addr
			fmt.Fprintf(cmd.OutOrStdout(), "Run viewer at %s\n", url)
			fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

			if !noOpen {
				if err := visualization.OpenBrowser(url); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
				}
			}

			if err := <-errCh; err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("no-open", false, "Don't open the browser")
	return cmd
}
