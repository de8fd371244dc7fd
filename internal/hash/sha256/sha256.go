// Package sha256 derives stable fingerprints from string tuples.
package sha256

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Hasher fingerprints ordered string parts with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

func sum(parts []string) [sha256.Size]byte {
	return sha256.Sum256([]byte(strings.Join(parts, "\x00")))
}

// Hash returns the hex digest of the NUL-joined parts.
func (h *Hasher) Hash(parts ...string) string {
	digest := sum(parts)
	return hex.EncodeToString(digest[:])
}

// Pick maps the parts onto [0, n). It returns 0 when n <= 0.
func (h *Hasher) Pick(n int, parts ...string) int {
	if n <= 0 {
		return 0
	}
	digest := sum(parts)
	return int(binary.BigEndian.Uint64(digest[:8]) % uint64(n))
}
