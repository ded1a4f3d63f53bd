package markdown

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/rogersnm/griddle/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	midStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
)

func RenderMarkdown(content string) (string, error) {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(content)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

func RenderField(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

func RatingStyle(rating int) lipgloss.Style {
	switch {
	case rating >= 8:
		return goodStyle
	case rating >= 5:
		return midStyle
	default:
		return badStyle
	}
}

func RenderRating(rating int) string {
	return RatingStyle(rating).Render(fmt.Sprintf("%d/10", rating))
}

func RenderEntityHeader(title string, fields []string) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(title))
	sb.WriteString("\n")
	for _, f := range fields {
		sb.WriteString("  " + f + "\n")
	}
	return sb.String()
}

// RenderObservations formats the observation log as an indented timeline.
func RenderObservations(obs []model.Observation) string {
	if len(obs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Observations"))
	sb.WriteString("\n")
	for _, o := range obs {
		sb.WriteString("  " + labelStyle.Render(o.At.Format("2006-01-02 15:04")) + "  ")
		sb.WriteString(noteStyle.Render(o.Note))
		if len(o.Measurements) > 0 {
			keys := make([]string, 0, len(o.Measurements))
			for k := range o.Measurements {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%g", k, o.Measurements[k])
			}
			sb.WriteString("  " + labelStyle.Render("["+strings.Join(parts, " ")+"]"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// RenderOutcome formats the outcome block, or a placeholder when unset.
func RenderOutcome(o *model.Outcome) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render("Outcome"))
	sb.WriteString("\n")
	if o == nil {
		sb.WriteString("  " + labelStyle.Render("not recorded yet") + "\n")
		return sb.String()
	}
	sb.WriteString("  " + RenderField("Rating", RenderRating(o.Rating)) + "\n")
	for _, issue := range o.Issues {
		sb.WriteString("  " + RenderField("Issue", issue) + "\n")
	}
	for _, nt := range o.NextTime {
		sb.WriteString("  " + RenderField("Next time", nt) + "\n")
	}
	return sb.String()
}
