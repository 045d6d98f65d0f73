// Package rand generates record keys in the shape SurrealDB assigns to
// records created without an explicit id: 20 lowercase alphanumerics.
package rand

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"regexp"
	"sync"
)

const (
	// KeyLength is the length of generated keys.
	KeyLength = 20

	charset = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9]{20}$`)

// Source produces keys. The zero value is not usable; use NewSource or
// NewSeededSource.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a Source seeded from crypto/rand.
func NewSource() *Source {
	seed := make([]byte, 16)
	if _, err := cryptorand.Read(seed); err != nil {
		panic("unreachable")
	}
	return NewSeededSource(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:]))
}

// NewSeededSource returns a Source producing a reproducible sequence.
func NewSeededSource(seed1, seed2 uint64) *Source {
	//nolint:gosec // keys are identifiers, not secrets
	return &Source{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Key returns a new key.
func (s *Source) Key() string {
	buf := make([]byte, KeyLength)

	s.mu.Lock()
	for i := range buf {
		buf[i] = charset[s.rng.IntN(len(charset))]
	}
	s.mu.Unlock()

	return string(buf)
}

// LooksLikeKey reports whether s has the shape of a generated key.
func LooksLikeKey(s string) bool {
	return keyPattern.MatchString(s)
}
