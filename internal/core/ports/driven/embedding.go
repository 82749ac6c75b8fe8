package driven

import "context"

// EmbeddingProvider maps text to fixed-dimension vectors under one
// declared model.
//
// Implementations may include:
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, all-minilm)
//   - Local models via inference servers
type EmbeddingProvider interface {
	// EmbedBatch generates embeddings for multiple texts. result[i]
	// corresponds to texts[i]. Returns domain.ErrEmbeddingUnavailable
	// when the backend cannot be reached and
	// domain.ErrDimensionMismatch when the response dimension differs
	// from Dimensions().
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g. 384, 768, 1536).
	Dimensions() int

	// ModelName returns the embedding model identifier. It participates
	// in cache keys, so it must be stable.
	ModelName() string

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EmbeddingCache is a narrow key-value interface over the global embedding
// cache. Keys are hash.CacheKey(model, text); the cache is shared across
// tenants because identical text under one model embeds identically.
// Topology (single node, tiered, remote) is an adapter concern.
type EmbeddingCache interface {
	// GetBatch returns the cached vector per key, nil for misses.
	// result[i] corresponds to keys[i].
	GetBatch(ctx context.Context, keys []string) ([][]float32, error)

	// PutBatch stores vectors under their keys.
	PutBatch(ctx context.Context, keys []string, vectors [][]float32) error
}
