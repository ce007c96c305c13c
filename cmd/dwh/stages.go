package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/dims"
	"github.com/clouddocs/warehouse/internal/facts"
	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/parser"
	"github.com/clouddocs/warehouse/internal/rollup"
	"github.com/clouddocs/warehouse/internal/store"
	"github.com/clouddocs/warehouse/internal/views"
)

// stageRun opens the store, runs fn with an interrupt-aware context, and
// prints the stage counts.
func stageRun(cmd *cobra.Command, fn func(ctx context.Context, s store.Store) (model.StageCounts, error)) error {
	_, s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	counts, err := fn(ctx, s)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "accepted=%d rejected=%d dead_lettered=%d\n",
		counts.Accepted, counts.Rejected, counts.DeadLettered)
	return nil
}

var parseCmd = &cobra.Command{
	Use:     "parse <batch-id>",
	Short:   "Parse raw events into staging records",
	GroupID: "pipeline",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stageRun(cmd, func(ctx context.Context, s store.Store) (model.StageCounts, error) {
			return parser.New(s, logger).Run(ctx, args[0])
		})
	},
}

var dimensionsCmd = &cobra.Command{
	Use:     "dimensions <batch-id>",
	Short:   "Resolve dimension rows from staging records",
	GroupID: "pipeline",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stageRun(cmd, func(ctx context.Context, s store.Store) (model.StageCounts, error) {
			return dims.New(s, logger).Run(ctx, args[0])
		})
	},
}

var factsCmd = &cobra.Command{
	Use:     "facts <batch-id>",
	Short:   "Load event-grain facts from staging records",
	GroupID: "pipeline",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return stageRun(cmd, func(ctx context.Context, s store.Store) (model.StageCounts, error) {
			resolver := dims.New(s, logger)
			return facts.New(s, resolver, logger).Run(ctx, args[0])
		})
	},
}

var aggregateCmd = &cobra.Command{
	Use:     "aggregate",
	Short:   "Recompute the daily activity rollup",
	GroupID: "pipeline",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stageRun(cmd, func(ctx context.Context, s store.Store) (model.StageCounts, error) {
			rows, err := rollup.New(s, logger).Run(ctx)
			return model.StageCounts{Accepted: rows}, err
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:     "refresh",
	Short:   "Rebuild the analytics projections",
	GroupID: "pipeline",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := views.New(s, logger).Run(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "projections refreshed")
		return nil
	},
}
