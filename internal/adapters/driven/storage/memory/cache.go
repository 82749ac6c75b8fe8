package memory

import (
	"context"
	"sync"

	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure EmbeddingCache implements the interface.
var _ driven.EmbeddingCache = (*EmbeddingCache)(nil)

// EmbeddingCache is an in-memory implementation of driven.EmbeddingCache.
type EmbeddingCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewEmbeddingCache creates a new in-memory embedding cache.
func NewEmbeddingCache() *EmbeddingCache {
	return &EmbeddingCache{vectors: make(map[string][]float32)}
}

// GetBatch returns the cached vector per key, nil for misses.
func (c *EmbeddingCache) GetBatch(_ context.Context, keys []string) ([][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([][]float32, len(keys))
	for i, key := range keys {
		result[i] = c.vectors[key]
	}
	return result, nil
}

// PutBatch stores vectors under their keys.
func (c *EmbeddingCache) PutBatch(_ context.Context, keys []string, vectors [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, key := range keys {
		if i < len(vectors) && vectors[i] != nil {
			c.vectors[key] = vectors[i]
		}
	}
	return nil
}

// Len reports how many vectors are cached.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
