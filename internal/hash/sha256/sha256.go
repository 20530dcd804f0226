// Package sha256 provides SHA-256 hashing utilities used for posting identity.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher derives stable identifiers from normalized URLs.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short returns the first n hex characters of the SHA-256 digest of s.
// n is clamped to the full digest length.
func Short(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	digest := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
