// Package id implements the entry identifier grammar: a calendar date and a
// lowercase slug joined by an underscore, e.g. 2025-01-10_roast-chicken.
// Validation here is the only defense between caller-supplied ids and the
// on-disk document tree, so every external id must pass Validate before any
// path is derived from it.
package id

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rogersnm/griddle/internal/fault"
)

const (
	dateLen    = len("2006-01-02")
	maxSlugLen = 50
	maxLen     = dateLen + 1 + maxSlugLen
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Validate checks id against the grammar. It rejects path separators,
// parent-directory references, and NUL bytes explicitly even though the
// grammar already excludes them.
func Validate(id string) error {
	if id == "" {
		return fault.New(fault.InvalidIdentifier, "entry id is required")
	}
	if len(id) > maxLen {
		return fault.New(fault.InvalidIdentifier, "entry id %q exceeds %d characters", id, maxLen)
	}
	if strings.ContainsAny(id, "/\\\x00") || strings.Contains(id, "..") {
		return fault.New(fault.InvalidIdentifier, "entry id %q contains path characters", id)
	}
	datePart, slug, ok := strings.Cut(id, "_")
	if !ok {
		return fault.New(fault.InvalidIdentifier, "entry id %q: missing underscore separator", id)
	}
	if len(datePart) != dateLen {
		return fault.New(fault.InvalidIdentifier, "entry id %q: date must be YYYY-MM-DD", id)
	}
	if _, err := time.Parse("2006-01-02", datePart); err != nil {
		return fault.New(fault.InvalidIdentifier, "entry id %q: invalid date %q", id, datePart)
	}
	if len(slug) == 0 || len(slug) > maxSlugLen {
		return fault.New(fault.InvalidIdentifier, "entry id %q: slug must be 1-%d characters", id, maxSlugLen)
	}
	if !slugPattern.MatchString(slug) {
		return fault.New(fault.InvalidIdentifier, "entry id %q: slug may only contain lowercase letters, digits, and hyphens", id)
	}
	return nil
}

// Date returns the date embedded in a validated id. Calling it with an id
// that never passed Validate is a caller contract violation and panics.
func Date(id string) time.Time {
	if len(id) < dateLen {
		panic(fmt.Sprintf("id.Date called with unvalidated id %q", id))
	}
	t, err := time.Parse("2006-01-02", id[:dateLen])
	if err != nil {
		panic(fmt.Sprintf("id.Date called with unvalidated id %q", id))
	}
	return t
}

// New derives an id from a date and a free-form title by slugging the title.
func New(date time.Time, title string) (string, error) {
	slug := Slug(title)
	if slug == "" {
		slug = "entry"
	}
	id := date.Format("2006-01-02") + "_" + slug
	if err := Validate(id); err != nil {
		return "", err
	}
	return id, nil
}

// Slug lowers title, converts whitespace runs to hyphens, strips anything
// outside [a-z0-9-], collapses repeated hyphens, and caps the length.
func Slug(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.Join(strings.Fields(s), "-")
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}
