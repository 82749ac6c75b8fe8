package driven

import (
	"context"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// LexicalHit is a keyword search result.
type LexicalHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Score is the BM25 relevance score.
	Score float64
}

// LexicalIndex provides full-text keyword search over chunk text,
// partitioned by tenant. Backed by SQLite FTS5.
type LexicalIndex interface {
	// Index adds or updates a chunk in the index.
	Index(ctx context.Context, chunk domain.Chunk) error

	// DeleteDocument removes all of a document's chunks from the index.
	DeleteDocument(ctx context.Context, tenantID, documentID string) error

	// Search performs a keyword query within one tenant's corpus and
	// returns matches best first.
	Search(ctx context.Context, tenantID, query string, limit int) ([]LexicalHit, error)
}
