package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContent(t *testing.T) {
	a := Content([]byte("hello world"))
	b := Content([]byte("hello world"))
	c := Content([]byte("hello worlds"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestCacheKey(t *testing.T) {
	// Whitespace normalisation: the same words hash identically.
	a := CacheKey("text-embedding-3-small", "some  chunk\ntext")
	b := CacheKey("text-embedding-3-small", "some chunk text")
	assert.Equal(t, a, b)

	// Different model, different key.
	c := CacheKey("other-model", "some chunk text")
	assert.NotEqual(t, a, c)

	// Keys are prefixed with the model for observability.
	assert.Contains(t, a, "text-embedding-3-small:")
}
