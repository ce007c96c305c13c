package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/export"
	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/pipeline"
)

// quarantined counts the records the run dead-lettered or rejected.
func quarantined(run *model.BatchRun) int {
	var n int
	for _, c := range run.Stages {
		n += c.DeadLettered + c.Rejected
	}
	return n
}

var runCmd = &cobra.Command{
	Use:     "run <batch-id>",
	Short:   "Run all pipeline stages for a batch",
	GroupID: "pipeline",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID := args[0]

		cfg, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		pub, err := openPublisher(cfg)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer pub.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		// The configured warehouse range is seeded up front; the dimension
		// stage still tops up around the batch's own event window.
		if err := s.EnsureDateRange(ctx, cfg.DateDimFrom, cfg.DateDimTo); err != nil {
			return fmt.Errorf("seeding date dimension: %w", err)
		}

		runner := pipeline.New(s, pub, logger)
		run, runErr := runner.Run(ctx, batchID)

		// Quarantined records ship out automatically when a bucket is
		// configured; export problems never change the batch outcome.
		if run != nil && cfg.DeadLetterS3Bucket != "" && quarantined(run) > 0 {
			key := path.Join(cfg.DeadLetterS3Prefix, batchID+".jsonl")
			dest, err := export.NewS3Destination(ctx,
				cfg.DeadLetterS3Bucket, key, cfg.DeadLetterS3Region, cfg.DeadLetterS3Endpoint)
			if err != nil {
				logger.Warn("dead letter export skipped", "error", err)
			} else if _, err := export.New(s, dest, logger).Export(ctx, batchID); err != nil {
				logger.Warn("dead letter export failed", "error", err)
			}
		}

		if jsonOutput && run != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(run); err != nil {
				return err
			}
			return runErr
		}
		if run != nil {
			printRun(cmd, run)
		}
		return runErr
	},
}
