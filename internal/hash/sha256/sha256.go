// Package sha256 provides SHA-256 content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is the number of hex characters in a short digest. Short digests
// name asset files on disk; full digests identify page content.
const ShortLen = 16

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns the full hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short hashes the input and returns the first ShortLen hex characters.
func (h *Hasher) Short(data []byte) (string, error) {
	full, err := h.Hash(data)
	if err != nil {
		return "", err
	}
	return full[:ShortLen], nil
}
