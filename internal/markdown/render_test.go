package markdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rogersnm/griddle/internal/gitrepo"
	"github.com/rogersnm/griddle/internal/model"
)

func TestRenderObservations(t *testing.T) {
	at := time.Date(2025, 1, 10, 18, 5, 0, 0, time.UTC)
	out := RenderObservations([]model.Observation{
		{At: at, Note: "raised heat", Measurements: map[string]float64{
			"oven_temp_c": 220, "internal_temp_c": 54.5,
		}},
	})
	assert.Contains(t, out, "2025-01-10 18:05")
	assert.Contains(t, out, "raised heat")
	// Measurement keys render sorted.
	assert.Contains(t, out, "internal_temp_c=54.5 oven_temp_c=220")
}

func TestRenderObservations_Empty(t *testing.T) {
	assert.Empty(t, RenderObservations(nil))
}

func TestRenderOutcome(t *testing.T) {
	out := RenderOutcome(&model.Outcome{Rating: 8, Issues: []string{"pale skin"}, NextTime: []string{"hotter oven"}})
	assert.Contains(t, out, "8/10")
	assert.Contains(t, out, "pale skin")
	assert.Contains(t, out, "hotter oven")

	assert.Contains(t, RenderOutcome(nil), "not recorded yet")
}

func TestRenderEntryTable(t *testing.T) {
	now := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	entries := []model.Entry{
		{
			ID: "2025-01-10_roast-chicken", UpdatedAt: now,
			Metadata:     model.Metadata{Title: "Roast Chicken"},
			Observations: []model.Observation{{At: now, Note: "n"}},
			Outcome:      &model.Outcome{Rating: 8},
		},
		{
			ID: "2025-01-09_sourdough", UpdatedAt: now,
			Metadata: model.Metadata{Title: "Sourdough"},
		},
	}
	out := RenderEntryTable(entries)
	assert.Contains(t, out, "2025-01-10_roast-chicken")
	assert.Contains(t, out, "Roast Chicken")
	assert.Contains(t, out, "Sourdough")

	assert.Equal(t, "No entries found.", RenderEntryTable(nil))
}

func TestRenderRevisionTable(t *testing.T) {
	revs := []gitrepo.Revision{{
		Hash:    "0123456789abcdef0123456789abcdef01234567",
		Summary: "create(2025-01-10_roast-chicken): Roast Chicken",
		Author:  "Nora",
		When:    time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC),
	}}
	out := RenderRevisionTable(revs)
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef0123456789abcdef01234567")
	assert.Contains(t, out, "Nora")

	assert.Equal(t, "No revisions found.", RenderRevisionTable(nil))
}

func TestFormatRevision(t *testing.T) {
	assert.Equal(t, "revision 01234567",
		FormatRevision("0123456789abcdef0123456789abcdef01234567"))
	assert.Equal(t, "revision abc", FormatRevision("abc"))
}
