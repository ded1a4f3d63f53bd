// Package markdown handles the on-disk entry format: a YAML frontmatter
// block holding the structured entry, followed by the free-form cooking
// protocol as the markdown body.
package markdown

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/adrg/frontmatter"
	"gopkg.in/yaml.v3"

	"github.com/rogersnm/griddle/internal/model"
)

// Decode reads an entry and its protocol body from r.
func Decode(r io.Reader) (model.Entry, string, error) {
	var e model.Entry
	body, err := frontmatter.Parse(r, &e)
	if err != nil {
		return e, "", fmt.Errorf("parsing frontmatter: %w", err)
	}
	return e, strings.TrimSpace(string(body)), nil
}

// Encode serializes an entry as YAML frontmatter followed by body.
func Encode(e *model.Entry, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshaling frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(yamlBytes)
	buf.WriteString("---\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}
