package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/loadtest"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newLoadtestCmd(_ *app) *cobra.Command {
	opts := loadtest.DefaultOptions()
	var docs, layers int
	var keep bool
	cmd := &cobra.Command{
		Use:     "loadtest",
		GroupID: "maint",
		Short:   "Hammer a scratch database with concurrent writers and readers",
		Long: `Build a layered graph in a scratch database, then run concurrent
writers (some reversing existing edges, which must be rejected as cycles)
alongside readers walking ancestors, descendants and breadcrumbs. Finally
verify the graph is still acyclic and print latency percentiles.

The configured database is never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			dir, err := os.MkdirTemp("", "dg-loadtest-")
			if err != nil {
				return fmt.Errorf("failed to create scratch directory: %w", err)
			}
			if !keep {
				defer os.RemoveAll(dir)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Creating graph with %d documents in %d layers...\n", docs, layers)
			start := time.Now()
			// The engine logs every write; keep the load test quiet.
			tg, err := loadtest.CreateTestGraph(ctx, filepath.Join(dir, "load.db"), docs, layers, zap.NewNop().Sugar())
			if err != nil {
				return err
			}
			defer tg.Close()
			fmt.Fprintf(out, "Created %d relationships in %v\n", len(tg.Edges), time.Since(start).Round(time.Millisecond))

			report, err := tg.Run(ctx, opts)
			if err != nil {
				return err
			}
			report.Print(out)

			if err := tg.VerifyAcyclic(ctx); err != nil {
				fmt.Fprintf(out, "%s %v\n", ui.RenderFail("✗"), err)
				return err
			}
			fmt.Fprintf(out, "%s Graph is acyclic\n", ui.RenderPass("✓"))
			if report.RejectedCycle < report.BackEdgesAttempted {
				return fmt.Errorf("only %d of %d back-edges were rejected as cycles", report.RejectedCycle, report.BackEdgesAttempted)
			}
			if keep {
				fmt.Fprintf(out, "Database kept at %s\n", filepath.Join(dir, "load.db"))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&docs, "docs", 500, "Number of documents")
	cmd.Flags().IntVar(&layers, "layers", 8, "Number of layers")
	cmd.Flags().IntVar(&opts.Writers, "writers", opts.Writers, "Concurrent writers")
	cmd.Flags().IntVar(&opts.Readers, "readers", opts.Readers, "Concurrent readers")
	cmd.Flags().IntVar(&opts.OpsPerWorker, "ops", opts.OpsPerWorker, "Operations per worker")
	cmd.Flags().IntVar(&opts.BackEdgePercent, "back-edge-pct", opts.BackEdgePercent, "Percentage of writes that reverse an existing edge")
	cmd.Flags().Int64Var(&opts.Seed, "seed", opts.Seed, "Random seed")
	cmd.Flags().BoolVar(&keep, "keep", false, "Keep the scratch database")
	return cmd
}
