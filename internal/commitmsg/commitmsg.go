// Package commitmsg derives the one-line revision summaries recorded with
// every mutation. Summaries follow a fixed grammar, <kind>(<id>): <detail>,
// so audit tooling can grep history by operation kind or entry id no matter
// which repository method produced the commit. Everything here is pure.
package commitmsg

import (
	"fmt"
	"strings"
)

// Kind identifies which repository operation produced a revision.
type Kind string

const (
	KindCreate   Kind = "create"
	KindObs      Kind = "obs"
	KindOutcomes Kind = "outcomes"
	KindEdit     Kind = "edit"
	KindDelete   Kind = "delete"
	KindInit     Kind = "init"
)

// Detail text is collapsed to one line and capped so summaries stay short
// enough for conventional one-line log output.
const maxDetailLen = 72

// Author is the identity attached to every revision.
type Author struct {
	Name  string
	Email string
}

// Summary derives the canonical revision message for an operation.
func Summary(kind Kind, id, detail string) string {
	detail = strings.Join(strings.Fields(detail), " ")
	if r := []rune(detail); len(r) > maxDetailLen {
		detail = strings.TrimRight(string(r[:maxDetailLen-3]), " ") + "..."
	}
	return fmt.Sprintf("%s(%s): %s", kind, id, detail)
}

func Create(id, title string) string {
	return Summary(KindCreate, id, title)
}

func Observation(id, note string) string {
	return Summary(KindObs, id, note)
}

func Outcomes(id string, rating int) string {
	return Summary(KindOutcomes, id, fmt.Sprintf("rating=%d", rating))
}

func Edit(id string) string {
	return Summary(KindEdit, id, "protocol")
}

func Delete(id string) string {
	return Summary(KindDelete, id, "entry")
}

// TokenTrailer is the message line that ties a commit to the idempotency
// token of the mutation that produced it.
func TokenTrailer(token string) string {
	return "token: " + token
}

// WithToken appends the token trailer to a summary. A retry that finds only
// a pending idempotency record locates the commit by this trailer instead
// of re-applying the mutation.
func WithToken(summary, token string) string {
	return summary + "\n\n" + TokenTrailer(token)
}
