// Package sha256 names archived Analyzer output by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
)

// Hasher implements audit.Hasher using SHA-256.
type Hasher struct{}

var _ audit.Hasher = (*Hasher)(nil)

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
