package driven

import (
	"context"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// EntryMeta is the chunk metadata stored alongside a vector, used for
// tenant isolation and metadata filtering at search time.
type EntryMeta struct {
	DocumentID string
	Page       int
	MIME       string
	Tags       []string
	CreatedAt  int64 // unix seconds of the document upload
}

// VectorHit is a similarity search result.
type VectorHit struct {
	// ChunkID is the matched chunk.
	ChunkID string

	// Similarity is a monotonic score usable for thresholding;
	// cosine similarity in the bundled adapter.
	Similarity float64

	Meta EntryMeta
}

// VectorIndex stores chunk vectors plus metadata and supports filtered
// similarity search. The index structure is pluggable (exact or
// approximate nearest neighbour); implementations must expose a monotonic
// similarity score.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for a chunk. Idempotent on
	// chunk ID.
	Upsert(ctx context.Context, tenantID, chunkID string, vector []float32, meta EntryMeta) error

	// Search returns the k most similar entries for the tenant, best
	// first. Entries of other tenants are never returned, even under
	// concurrent writes.
	Search(ctx context.Context, tenantID string, query []float32, k int, filter domain.Filter) ([]VectorHit, error)

	// DeleteDocument removes all entries belonging to a document.
	DeleteDocument(ctx context.Context, tenantID, documentID string) error

	// Close releases resources.
	Close() error
}
