package driven

import (
	"context"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// DocumentStore persists documents and chunks.
// Backed by SQLite for metadata storage.
type DocumentStore interface {
	// SaveDocument stores or updates a document.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// UpdateState transitions a document's lifecycle state. The store
	// enforces domain.CanTransition and returns domain.ErrInvalidInput
	// for an illegal move, so a crashed worker replaced by another can
	// never rewind a document.
	UpdateState(ctx context.Context, id string, state domain.DocumentState) error

	// RecordFailure marks a document failed, recording the failing stage
	// and whether a retry may succeed.
	RecordFailure(ctx context.Context, id, stage, message string, retryable bool) error

	// FindByContentHash returns the indexed document with the given
	// content hash for a tenant, or domain.ErrNotFound. Alias documents
	// are never returned, only originals.
	FindByContentHash(ctx context.Context, tenantID, hash string) (*domain.Document, error)

	// SaveChunks stores all chunks for a document in one transaction.
	// Chunk IDs are deterministic, so re-saving is idempotent.
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error

	// GetChunk retrieves a chunk by ID.
	GetChunk(ctx context.Context, id string) (*domain.Chunk, error)

	// GetChunks retrieves all chunks for a document, ordered by ordinal.
	GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error)

	// CountChunks reports how many chunks a document has.
	CountChunks(ctx context.Context, documentID string) (int, error)

	// DeleteDocument soft-deletes a document and removes its chunks.
	DeleteDocument(ctx context.Context, id string) error

	// ListDocuments returns a tenant's non-deleted documents.
	ListDocuments(ctx context.Context, tenantID string) ([]domain.Document, error)
}
