// Package uuid issues time-ordered identifiers for runs, applications and
// lease tokens.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator issues UUIDv7 strings. A non-empty prefix is joined with "_",
// so ledger ids read as "run_0190...".
type Generator struct {
	prefix string
}

// New returns a Generator tagging ids with prefix.
func New(prefix string) *Generator {
	return &Generator{prefix: strings.TrimSuffix(prefix, "_")}
}

// NewID returns a fresh id.
func (g *Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	if g.prefix == "" {
		return id.String(), nil
	}
	return g.prefix + "_" + id.String(), nil
}

// Valid reports whether id carries this generator's prefix and a v7 UUID.
func (g *Generator) Valid(id string) bool {
	if g.prefix != "" {
		rest, ok := strings.CutPrefix(id, g.prefix+"_")
		if !ok {
			return false
		}
		id = rest
	}
	parsed, err := uuid.Parse(id)
	return err == nil && parsed.Version() == 7
}
