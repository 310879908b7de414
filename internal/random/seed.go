// Package random provides cryptographic seed generation helpers.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// SeedOrNew returns seed when non-zero, otherwise a fresh one.
// A failing entropy source falls back to zero, which is still a valid seed.
func SeedOrNew(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	s, err := NewSeed()
	if err != nil {
		return 0
	}
	return s
}
