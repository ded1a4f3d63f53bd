package markdown

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rogersnm/griddle/internal/gitrepo"
	"github.com/rogersnm/griddle/internal/model"
)

var (
	headerRowStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle      = lipgloss.NewStyle()
)

func RenderEntryTable(entries []model.Entry) string {
	if len(entries) == 0 {
		return "No entries found."
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rating := "-"
		if e.Outcome != nil {
			rating = strconv.Itoa(e.Outcome.Rating)
		}
		rows[i] = []string{
			e.ID,
			e.Title,
			strconv.Itoa(len(e.Observations)),
			rating,
			e.UpdatedAt.Format("2006-01-02"),
		}
	}
	return renderTable([]string{"ID", "Title", "Obs", "Rating", "Updated"}, rows)
}

func RenderRevisionTable(revs []gitrepo.Revision) string {
	if len(revs) == 0 {
		return "No revisions found."
	}
	rows := make([][]string, len(revs))
	for i, r := range revs {
		rows[i] = []string{
			shortHash(r.Hash),
			r.Summary,
			r.Author,
			r.When.Format("2006-01-02 15:04"),
		}
	}
	return renderTable([]string{"Revision", "Summary", "Author", "When"}, rows)
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Headers(headers...).
		Rows(rows...).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerRowStyle
			}
			return cellStyle
		})
	return t.Render()
}

// FormatRevision is the one-line confirmation printed after a mutation.
func FormatRevision(rev string) string {
	return fmt.Sprintf("revision %s", shortHash(rev))
}
