package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns an opaque hex ID, used for transport connection IDs.
func NewID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
