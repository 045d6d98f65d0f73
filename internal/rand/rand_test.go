package rand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyShape(t *testing.T) {
	src := NewSource()
	seen := map[string]bool{}
	for range 1000 {
		k := src.Key()
		assert.True(t, LooksLikeKey(k), k)
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}

func TestSeededSourceIsReproducible(t *testing.T) {
	a, b := NewSeededSource(1, 2), NewSeededSource(1, 2)
	for range 10 {
		assert.Equal(t, a.Key(), b.Key())
	}
}

func TestLooksLikeKey(t *testing.T) {
	assert.True(t, LooksLikeKey("abcdefghij0123456789"))
	assert.False(t, LooksLikeKey("ABCDEFGHIJ0123456789"))
	assert.False(t, LooksLikeKey("0b5b1bd4-7d0f-4ac4-9d2c-4dbb0b3a5c10"))
	assert.False(t, LooksLikeKey("short"))
}
