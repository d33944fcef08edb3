// Package sha256 names snapshots and cache entries by content digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Key names data within namespace. The namespace carries its own
// separator: "page:" gives a Redis key, "snapshots/job-1/" a blob path.
func (h *Hasher) Key(namespace string, data []byte) (string, error) {
	digest, err := h.Hash(data)
	if err != nil {
		return "", err
	}
	return namespace + digest, nil
}
