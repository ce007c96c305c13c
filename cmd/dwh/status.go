package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/model"
	"github.com/clouddocs/warehouse/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status [batch-id]",
	Short:   "Show batch runs and their stage counts",
	GroupID: "system",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		_, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()

		if len(args) == 1 {
			run, err := s.GetBatchRun(ctx, args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return fmt.Errorf("batch %q not found", args[0])
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			printRun(cmd, run)
			return nil
		}

		runs, err := s.ListBatchRuns(ctx, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no batch runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BATCH\tSTATUS\tACCEPTED\tSTARTED\tDURATION")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				run.BatchID,
				ui.RenderStatus(run.Status),
				run.TotalAccepted(),
				run.StartedAt.Format(time.RFC3339),
				runDuration(run))
		}
		return w.Flush()
	},
}

func runDuration(run *model.BatchRun) string {
	if run.FinishedAt == nil {
		return ui.RenderMuted("-")
	}
	return run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

// printRun renders one batch run with per-stage counts.
func printRun(cmd *cobra.Command, run *model.BatchRun) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s\n", ui.RenderAccent(run.BatchID), ui.RenderStatus(run.Status))
	fmt.Fprintf(out, "started:  %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "finished: %s (%s)\n", run.FinishedAt.Format(time.RFC3339), runDuration(run))
	}
	if run.Error != "" {
		fmt.Fprintf(out, "error:    %s\n", run.Error)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tACCEPTED\tREJECTED\tDEAD-LETTERED")
	for _, stage := range model.Stages {
		counts, ok := run.Stages[stage]
		if !ok {
			fmt.Fprintf(w, "%s\t%s\t\t\n", stage, ui.RenderMuted("-"))
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", stage, counts.Accepted, counts.Rejected, counts.DeadLettered)
	}
	w.Flush()
}

func init() {
	statusCmd.Flags().Int("limit", 20, "maximum runs to list")
}
