package model

import (
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/rogersnm/griddle/internal/fault"
)

// Field bounds enforced at the store boundary.
const (
	MaxTitleLen    = 200
	MaxNoteLen     = 1000
	MaxListItemLen = 500
	MinRating      = 1
	MaxRating      = 10
	MaxProtocolLen = 1 << 20
)

var measurementKey = regexp.MustCompile(`^[a-z0-9_]{1,40}$`)

// Metadata is the frontmatter block shared by every entry. Fixed fields are
// typed; anything the caller wants beyond them goes in Extra, validated as
// plain string pairs rather than trusted free-form data.
type Metadata struct {
	Title      string            `yaml:"title" json:"title"`
	Tags       []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	GearIDs    []string          `yaml:"gear_ids,omitempty" json:"gear_ids,omitempty"`
	Servings   int               `yaml:"servings,omitempty" json:"servings,omitempty"`
	DinnerTime *time.Time        `yaml:"dinner_time,omitempty" json:"dinner_time,omitempty"`
	Style      map[string]string `yaml:"style,omitempty" json:"style,omitempty"`
	Extra      map[string]string `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// Observation is one immutable timestamped note appended during an entry's
// active period. Measurements carry numeric readings such as temperatures.
type Observation struct {
	At           time.Time          `yaml:"at" json:"at"`
	Note         string             `yaml:"note" json:"note"`
	Measurements map[string]float64 `yaml:"measurements,omitempty" json:"measurements,omitempty"`
}

// Outcome is the mutable final-result block, replaced wholesale on update.
type Outcome struct {
	Rating   int      `yaml:"rating" json:"rating"`
	Issues   []string `yaml:"issues,omitempty" json:"issues,omitempty"`
	NextTime []string `yaml:"next_time,omitempty" json:"next_time,omitempty"`
}

// Entry is the unit of storage: metadata, an append-only observation log,
// and an optional outcome. The markdown body (the cooking protocol) lives
// outside the frontmatter and is carried separately.
type Entry struct {
	ID        string    `yaml:"id"`
	CreatedBy string    `yaml:"created_by"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
	Metadata  `yaml:",inline"`
	Observations []Observation `yaml:"observations,omitempty"`
	Outcome      *Outcome      `yaml:"outcome,omitempty"`
}

func (m *Metadata) Validate() error {
	if m.Title == "" {
		return fault.New(fault.SchemaError, "title is required")
	}
	if utf8.RuneCountInString(m.Title) > MaxTitleLen {
		return fault.New(fault.SchemaError, "title exceeds %d characters", MaxTitleLen)
	}
	// Servings 0 means unset; when set it must be at least 1.
	if m.Servings < 0 {
		return fault.New(fault.SchemaError, "servings must not be negative")
	}
	if err := validateList("tags", m.Tags); err != nil {
		return err
	}
	return validateList("gear_ids", m.GearIDs)
}

func (o *Observation) Validate() error {
	n := utf8.RuneCountInString(o.Note)
	if n == 0 || n > MaxNoteLen {
		return fault.New(fault.SchemaError, "observation note must be 1-%d characters", MaxNoteLen)
	}
	for k, v := range o.Measurements {
		if !measurementKey.MatchString(k) {
			return fault.New(fault.SchemaError, "invalid measurement key %q", k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fault.New(fault.SchemaError, "measurement %q must be a finite number", k)
		}
	}
	return nil
}

func (o *Outcome) Validate() error {
	if o.Rating < MinRating || o.Rating > MaxRating {
		return fault.New(fault.SchemaError, "rating must be between %d and %d", MinRating, MaxRating)
	}
	if err := validateList("issues", o.Issues); err != nil {
		return err
	}
	return validateList("next_time", o.NextTime)
}

func (e *Entry) Validate() error {
	if e.ID == "" {
		return fault.New(fault.SchemaError, "entry id is required")
	}
	if e.CreatedAt.IsZero() || e.UpdatedAt.IsZero() {
		return fault.New(fault.SchemaError, "entry timestamps are required")
	}
	if err := e.Metadata.Validate(); err != nil {
		return err
	}
	for i := range e.Observations {
		if err := e.Observations[i].Validate(); err != nil {
			return err
		}
	}
	if e.Outcome != nil {
		return e.Outcome.Validate()
	}
	return nil
}

func validateList(field string, items []string) error {
	for _, item := range items {
		if item == "" {
			return fault.New(fault.SchemaError, "%s entries must not be empty", field)
		}
		if utf8.RuneCountInString(item) > MaxListItemLen {
			return fault.New(fault.SchemaError, "%s entry exceeds %d characters", field, MaxListItemLen)
		}
	}
	return nil
}
