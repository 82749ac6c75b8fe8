package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

func TestDocumentStore_SaveAndGet(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	doc := &domain.Document{
		ID:          "doc-1",
		TenantID:    "tenant-a",
		Name:        "report.pdf",
		MIME:        "application/pdf",
		ContentHash: "abc123",
		State:       domain.StateReceived,
	}
	require.NoError(t, store.SaveDocument(ctx, doc))

	saved, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", saved.TenantID)
	assert.Equal(t, domain.StateReceived, saved.State)

	_, err = store.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_UpdateState_EnforcesTransitions(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	doc := &domain.Document{ID: "doc-1", State: domain.StateReceived}
	require.NoError(t, store.SaveDocument(ctx, doc))

	// Legal forward step.
	require.NoError(t, store.UpdateState(ctx, "doc-1", domain.StateExtracting))

	// Skipping a stage is rejected.
	err := store.UpdateState(ctx, "doc-1", domain.StateIndexed)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// The document keeps its last legal state.
	saved, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExtracting, saved.State)
	assert.Equal(t, domain.StateProgress(domain.StateExtracting), saved.Progress)
}

func TestDocumentStore_RecordFailure(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	doc := &domain.Document{ID: "doc-1", State: domain.StateExtracting}
	require.NoError(t, store.SaveDocument(ctx, doc))
	require.NoError(t, store.RecordFailure(ctx, "doc-1", "extract", "corrupted input", false))

	saved, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, saved.State)
	assert.Equal(t, "extract", saved.FailedStage)
	assert.False(t, saved.Retryable)
	assert.Equal(t, 1, saved.ErrorCount)
}

func TestDocumentStore_FindByContentHash(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	original := &domain.Document{
		ID: "doc-1", TenantID: "tenant-a", ContentHash: "h1", State: domain.StateIndexed,
	}
	alias := &domain.Document{
		ID: "doc-2", TenantID: "tenant-a", ContentHash: "h1", State: domain.StateIndexed, AliasOf: "doc-1",
	}
	inFlight := &domain.Document{
		ID: "doc-3", TenantID: "tenant-a", ContentHash: "h2", State: domain.StateEmbedding,
	}
	require.NoError(t, store.SaveDocument(ctx, original))
	require.NoError(t, store.SaveDocument(ctx, alias))
	require.NoError(t, store.SaveDocument(ctx, inFlight))

	found, err := store.FindByContentHash(ctx, "tenant-a", "h1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", found.ID)

	// Mid-pipeline documents do not count as duplicates.
	_, err = store.FindByContentHash(ctx, "tenant-a", "h2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Other tenants never see the hash.
	_, err = store.FindByContentHash(ctx, "tenant-b", "h1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_Chunks(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	chunks := []domain.Chunk{
		{ID: "doc-1:0001", DocumentID: "doc-1", TenantID: "tenant-a", Ordinal: 1, Text: "second"},
		{ID: "doc-1:0000", DocumentID: "doc-1", TenantID: "tenant-a", Ordinal: 0, Text: "first"},
	}
	require.NoError(t, store.SaveChunks(ctx, chunks))

	// Re-saving the same IDs does not duplicate.
	require.NoError(t, store.SaveChunks(ctx, chunks))
	n, err := store.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)

	chunk, err := store.GetChunk(ctx, "doc-1:0001")
	require.NoError(t, err)
	assert.Equal(t, "second", chunk.Text)
}

func TestDocumentStore_DeleteDocument(t *testing.T) {
	store := NewDocumentStore()
	ctx := context.Background()

	doc := &domain.Document{ID: "doc-1", TenantID: "tenant-a", State: domain.StateIndexed}
	require.NoError(t, store.SaveDocument(ctx, doc))
	require.NoError(t, store.SaveChunks(ctx, []domain.Chunk{
		{ID: "doc-1:0000", DocumentID: "doc-1", TenantID: "tenant-a"},
	}))

	require.NoError(t, store.DeleteDocument(ctx, "doc-1"))

	saved, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, saved.State)

	n, err := store.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	docs, err := store.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
