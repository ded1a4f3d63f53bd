package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rogersnm/griddle/internal/markdown"
	"github.com/rogersnm/griddle/internal/store"
)

var obsCmd = &cobra.Command{
	Use:   "obs",
	Short: "Manage cooking observations",
}

var obsAddCmd = &cobra.Command{
	Use:   "add <id> <note>",
	Short: "Append an observation to an entry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		atStr, _ := cmd.Flags().GetString("at")
		measureStrs, _ := cmd.Flags().GetStringArray("measure")

		var at time.Time
		if atStr != "" {
			var err error
			if at, err = time.Parse(time.RFC3339, atStr); err != nil {
				return fmt.Errorf("invalid --at %q: %w", atStr, err)
			}
		}

		measurements, err := parseMeasurements(measureStrs)
		if err != nil {
			return err
		}

		rev, err := st.AppendObservation(cmd.Context(), store.ObservationParams{
			EntryID:      args[0],
			Note:         args[1],
			At:           at,
			Measurements: measurements,
			Token:        tokenFlag(cmd),
		})
		if err != nil {
			return err
		}
		fmt.Printf("Recorded observation on %s (%s)\n", args[0], markdown.FormatRevision(rev))
		return nil
	},
}

func parseMeasurements(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --measure %q: expected key=value", p)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --measure %q: %w", p, err)
		}
		m[k] = f
	}
	return m, nil
}

func init() {
	obsAddCmd.Flags().String("at", "", "observation time (RFC 3339, default: server-assigned)")
	obsAddCmd.Flags().StringArray("measure", nil, "numeric measurement key=value (repeatable)")
	obsAddCmd.Flags().String("token", "", "idempotency token (default: new UUID)")

	obsCmd.AddCommand(obsAddCmd)
	rootCmd.AddCommand(obsCmd)
}
