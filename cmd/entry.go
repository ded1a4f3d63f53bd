package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/editor"
	"github.com/rogersnm/griddle/internal/markdown"
	"github.com/rogersnm/griddle/internal/model"
	"github.com/rogersnm/griddle/internal/store"
)

var entryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Manage notebook entries",
}

var entryCreateCmd = &cobra.Command{
	Use:   "create <title>",
	Short: "Create a new entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		explicitID, _ := cmd.Flags().GetString("id")
		dateStr, _ := cmd.Flags().GetString("date")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		gear, _ := cmd.Flags().GetStringSlice("gear")
		servings, _ := cmd.Flags().GetInt("servings")
		dinnerStr, _ := cmd.Flags().GetString("dinner-time")
		styles, _ := cmd.Flags().GetStringArray("style")

		var date time.Time
		if dateStr != "" {
			var err error
			if date, err = time.Parse("2006-01-02", dateStr); err != nil {
				return fmt.Errorf("invalid --date %q: %w", dateStr, err)
			}
		}

		meta := model.Metadata{
			Title:    args[0],
			Tags:     tags,
			GearIDs:  gear,
			Servings: servings,
			Style:    parsePairs(styles),
		}
		if dinnerStr != "" {
			dt, err := time.Parse(time.RFC3339, dinnerStr)
			if err != nil {
				return fmt.Errorf("invalid --dinner-time %q: %w", dinnerStr, err)
			}
			meta.DinnerTime = &dt
		}

		entryID, rev, err := st.CreateEntry(cmd.Context(), store.CreateParams{
			ID:       explicitID,
			Date:     date,
			Meta:     meta,
			Protocol: readStdin(),
			Token:    tokenFlag(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created entry %s (%s)\n", entryID, markdown.FormatRevision(rev))
		return nil
	},
}

var entryShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show entry details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, body, err := st.GetEntry(args[0])
		if err != nil {
			return err
		}
		fields := []string{
			markdown.RenderField("ID", e.ID),
			markdown.RenderField("Created by", e.CreatedBy),
			markdown.RenderField("Created", e.CreatedAt.Format("2006-01-02 15:04:05")),
			markdown.RenderField("Updated", e.UpdatedAt.Format("2006-01-02 15:04:05")),
		}
		if len(e.Tags) > 0 {
			fields = append(fields, markdown.RenderField("Tags", strings.Join(e.Tags, ", ")))
		}
		if e.Servings > 0 {
			fields = append(fields, markdown.RenderField("Servings", fmt.Sprint(e.Servings)))
		}
		if e.DinnerTime != nil {
			fields = append(fields, markdown.RenderField("Dinner", e.DinnerTime.Format("2006-01-02 15:04")))
		}
		fmt.Print(markdown.RenderEntityHeader(e.Title, fields))
		if s := markdown.RenderObservations(e.Observations); s != "" {
			fmt.Print(s)
		}
		fmt.Print(markdown.RenderOutcome(e.Outcome))
		if body != "" {
			rendered, err := markdown.RenderMarkdown(body)
			if err != nil {
				return err
			}
			fmt.Print(rendered)
		}
		return nil
	},
}

var entryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := st.ListEntries()
		if err != nil {
			return err
		}
		fmt.Println(markdown.RenderEntryTable(entries))
		return nil
	},
}

var entryEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Replace the protocol body via stdin or $EDITOR",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, body, err := st.GetEntry(args[0])
		if err != nil {
			return err
		}

		newBody := readStdin()
		if newBody == "" {
			edited, err := editor.EditText(args[0]+"-*.md", body)
			if err != nil {
				return err
			}
			newBody = edited
		}

		rev, err := st.UpdateProtocol(cmd.Context(), store.ProtocolParams{
			EntryID:  args[0],
			Protocol: newBody,
			Token:    tokenFlag(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Updated protocol for %s (%s)\n", args[0], markdown.FormatRevision(rev))
		return nil
	},
}

var entryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an entry as a committed revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rev, err := st.DeleteEntry(cmd.Context(), store.DeleteParams{
			EntryID: args[0],
			Token:   tokenFlag(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Deleted entry %s (%s)\n", args[0], markdown.FormatRevision(rev))
		return nil
	},
}

func init() {
	entryCreateCmd.Flags().String("id", "", "explicit entry id (YYYY-MM-DD_slug)")
	entryCreateCmd.Flags().String("date", "", "entry date (YYYY-MM-DD, default today)")
	entryCreateCmd.Flags().StringSlice("tags", nil, "comma-separated tags")
	entryCreateCmd.Flags().StringSlice("gear", nil, "comma-separated equipment ids")
	entryCreateCmd.Flags().Int("servings", 0, "number of servings")
	entryCreateCmd.Flags().String("dinner-time", "", "target completion time (RFC 3339)")
	entryCreateCmd.Flags().StringArray("style", nil, "style flag key=value (repeatable)")

	for _, c := range []*cobra.Command{entryCreateCmd, entryEditCmd, entryDeleteCmd} {
		c.Flags().String("token", "", "idempotency token (default: new UUID)")
	}

	entryCmd.AddCommand(entryCreateCmd)
	entryCmd.AddCommand(entryShowCmd)
	entryCmd.AddCommand(entryListCmd)
	entryCmd.AddCommand(entryEditCmd)
	entryCmd.AddCommand(entryDeleteCmd)
	rootCmd.AddCommand(entryCmd)
}

// tokenFlag returns the caller-supplied idempotency token, minting a fresh
// one when absent. A generated token still guards against double-apply
// inside this invocation's retries, but not across re-runs of the command.
func tokenFlag(cmd *cobra.Command) string {
	if t, _ := cmd.Flags().GetString("token"); t != "" {
		return t
	}
	return uuid.NewString()
}

func parsePairs(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		m[k] = v
	}
	return m
}

func readStdin() string {
	info, err := os.Stdin.Stat()
	if err != nil {
		return ""
	}
	// Only read if stdin is explicitly a pipe (not a terminal, not a socket)
	if info.Mode()&os.ModeNamedPipe == 0 && info.Size() == 0 {
		return ""
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return ""
	}
	return string(data)
}
