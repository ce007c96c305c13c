package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/clouddocs/warehouse/internal/ui"
)

var churnCmd = &cobra.Command{
	Use:     "churn",
	Short:   "Show the churn risk projection",
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		_, s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		scores, err := s.ListChurnRisk(context.Background())
		if err != nil {
			return err
		}
		if limit > 0 && len(scores) > limit {
			scores = scores[:limit]
		}
		if jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scores)
		}
		if len(scores) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "churn projection is empty (run refresh first)")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tRISK\tDAYS IDLE\tLAST ACTIVE\tLIFETIME EVENTS")
		for _, sc := range scores {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
				sc.UserID,
				ui.RenderRisk(sc.RiskCategory),
				sc.DaysSinceActive,
				sc.LastActiveDate.Format(time.DateOnly),
				sc.LifetimeEvents)
		}
		return w.Flush()
	},
}

func init() {
	churnCmd.Flags().Int("limit", 50, "maximum users to list")
}
