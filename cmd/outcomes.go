package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/markdown"
	"github.com/rogersnm/griddle/internal/model"
	"github.com/rogersnm/griddle/internal/store"
)

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Manage entry outcomes",
}

var outcomesSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Replace the outcome block for an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rating, _ := cmd.Flags().GetInt("rating")
		issues, _ := cmd.Flags().GetStringArray("issue")
		nextTime, _ := cmd.Flags().GetStringArray("next-time")

		rev, err := st.UpdateOutcome(cmd.Context(), store.OutcomeParams{
			EntryID: args[0],
			Outcome: model.Outcome{
				Rating:   rating,
				Issues:   issues,
				NextTime: nextTime,
			},
			Token: tokenFlag(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Recorded outcome for %s (%s)\n", args[0], markdown.FormatRevision(rev))
		return nil
	},
}

func init() {
	outcomesSetCmd.Flags().Int("rating", 0, "rating 1-10 (required)")
	outcomesSetCmd.Flags().StringArray("issue", nil, "issue encountered (repeatable)")
	outcomesSetCmd.Flags().StringArray("next-time", nil, "note for next time (repeatable)")
	outcomesSetCmd.Flags().String("token", "", "idempotency token (default: new UUID)")
	outcomesSetCmd.MarkFlagRequired("rating")

	outcomesCmd.AddCommand(outcomesSetCmd)
	rootCmd.AddCommand(outcomesCmd)
}
