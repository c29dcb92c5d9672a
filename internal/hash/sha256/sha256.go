// Package sha256 derives content-addressed names from cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher maps cache keys to fixed-length hex names.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the lowercase hex digest of key.
func (*Hasher) Sum(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
