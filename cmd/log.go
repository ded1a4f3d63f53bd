package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/markdown"
)

var logCmd = &cobra.Command{
	Use:   "log [id]",
	Short: "Show revision history, newest first",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		entryID := ""
		if len(args) == 1 {
			entryID = args[0]
		}
		revs, err := st.History(entryID, limit)
		if err != nil {
			return err
		}
		fmt.Println(markdown.RenderRevisionTable(revs))
		return nil
	},
}

func init() {
	logCmd.Flags().Int("limit", 20, "maximum revisions to show (0 for all)")
	rootCmd.AddCommand(logCmd)
}
