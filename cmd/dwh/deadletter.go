package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/export"
)

var deadletterCmd = &cobra.Command{
	Use:     "deadletter",
	Short:   "Inspect and export quarantined records",
	GroupID: "data",
}

var deadletterListCmd = &cobra.Command{
	Use:   "list <batch-id>",
	Short: "List a batch's dead letters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		letters, err := s.ListDeadLetters(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(letters)
		}
		if len(letters) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no dead letters for batch")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tSTAGE\tREASON\tAT")
		for _, dl := range letters {
			eventID := dl.EventID
			if eventID == "" {
				eventID = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				eventID, dl.Stage, dl.Reason, dl.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var deadletterExportCmd = &cobra.Command{
	Use:   "export <batch-id>",
	Short: "Export a batch's dead letters as JSONL",
	Long: `Export a batch's dead letters as JSONL to a local file (--output) or,
when DWH_DEADLETTER_S3_BUCKET is configured, to the S3 bucket under
<prefix>/<batch-id>.jsonl.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batchID := args[0]
		output, _ := cmd.Flags().GetString("output")

		cfg, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := context.Background()

		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := export.WriteJSONL(ctx, s, batchID, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d dead letters to %s\n", n, output)
			return nil
		}

		if cfg.DeadLetterS3Bucket == "" {
			return fmt.Errorf("no --output given and DWH_DEADLETTER_S3_BUCKET not set")
		}
		key := path.Join(cfg.DeadLetterS3Prefix, batchID+".jsonl")
		dest, err := export.NewS3Destination(ctx,
			cfg.DeadLetterS3Bucket, key, cfg.DeadLetterS3Region, cfg.DeadLetterS3Endpoint)
		if err != nil {
			return err
		}
		n, err := export.New(s, dest, logger).Export(ctx, batchID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d dead letters to s3://%s/%s\n",
			n, cfg.DeadLetterS3Bucket, key)
		return nil
	},
}

func init() {
	deadletterExportCmd.Flags().String("output", "", "write JSONL to a local file instead of S3")
	deadletterCmd.AddCommand(deadletterListCmd)
	deadletterCmd.AddCommand(deadletterExportCmd)
}
