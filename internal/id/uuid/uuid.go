// Package uuid generates audit, batch and fix identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Generator creates time-ordered UUID v7 strings so ids sort by creation.
type Generator struct{}

var _ audit.IDGenerator = Generator{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
