package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "docbrain-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}
	return store, cleanup
}

func testDocument(id, tenantID string, state domain.DocumentState) *domain.Document {
	return &domain.Document{
		ID:          id,
		TenantID:    tenantID,
		UserID:      "user-1",
		Name:        id + ".txt",
		FileRef:     "inbox/" + id + ".txt",
		MIME:        "text/plain",
		ContentHash: "hash-" + id,
		State:       state,
		Tags:        []string{"test"},
	}
}

func TestStore_MigrationsAreIdempotent(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "docbrain-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same directory re-runs migrate against an
	// up-to-date schema.
	store, err = NewStore(tempDir)
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}

func TestDocumentStore_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	docs := store.DocumentStore()

	doc := testDocument("doc-1", "tenant-a", domain.StateReceived)
	require.NoError(t, docs.SaveDocument(ctx, doc))

	saved, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", saved.TenantID)
	assert.Equal(t, domain.StateReceived, saved.State)
	assert.Equal(t, []string{"test"}, saved.Tags)
	assert.False(t, saved.CreatedAt.IsZero())

	_, err = docs.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_StateEnforcement(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	docs := store.DocumentStore()

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "tenant-a", domain.StateReceived)))

	require.NoError(t, docs.UpdateState(ctx, "doc-1", domain.StateExtracting))
	err := docs.UpdateState(ctx, "doc-1", domain.StateIndexed)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	saved, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExtracting, saved.State)
}

func TestDocumentStore_ChunkEmbeddingRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	docs := store.DocumentStore()

	chunks := []domain.Chunk{
		{
			ID: "doc-1:0000", DocumentID: "doc-1", TenantID: "tenant-a",
			Ordinal: 0, Text: "first chunk", StartOffset: 0, EndOffset: 11,
			Page: 1, Confidence: 1,
		},
		{
			ID: "doc-1:0001", DocumentID: "doc-1", TenantID: "tenant-a",
			Ordinal: 1, Text: "second chunk", StartOffset: 9, EndOffset: 21,
			Page: 2, PrevOverlap: 2, Confidence: 0.8,
		},
	}
	require.NoError(t, docs.SaveChunks(ctx, chunks))

	// Persist embeddings in a second pass, as the pipeline does.
	chunks[0].Embedding = []float32{0.1, -0.5, 3}
	chunks[1].Embedding = []float32{1, 2, -0.25}
	require.NoError(t, docs.SaveChunks(ctx, chunks))

	got, err := docs.GetChunks(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float32{0.1, -0.5, 3}, got[0].Embedding)
	assert.Equal(t, []float32{1, 2, -0.25}, got[1].Embedding)
	assert.Equal(t, 2, got[1].Page)
	assert.InDelta(t, 0.8, got[1].Confidence, 1e-9)

	n, err := docs.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDocumentStore_FindByContentHash(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	docs := store.DocumentStore()

	original := testDocument("doc-1", "tenant-a", domain.StateIndexed)
	original.ContentHash = "shared-hash"
	require.NoError(t, docs.SaveDocument(ctx, original))

	alias := testDocument("doc-2", "tenant-a", domain.StateIndexed)
	alias.ContentHash = "shared-hash"
	alias.AliasOf = "doc-1"
	require.NoError(t, docs.SaveDocument(ctx, alias))

	found, err := docs.FindByContentHash(ctx, "tenant-a", "shared-hash")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", found.ID, "aliases are never returned as originals")

	_, err = docs.FindByContentHash(ctx, "tenant-b", "shared-hash")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDocumentStore_DeleteCascadesChunks(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	docs := store.DocumentStore()

	require.NoError(t, docs.SaveDocument(ctx, testDocument("doc-1", "tenant-a", domain.StateIndexed)))
	require.NoError(t, docs.SaveChunks(ctx, []domain.Chunk{
		{ID: "doc-1:0000", DocumentID: "doc-1", TenantID: "tenant-a", Text: "chunk"},
	}))

	require.NoError(t, docs.DeleteDocument(ctx, "doc-1"))

	saved, err := docs.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeleted, saved.State)

	n, err := docs.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	list, err := docs.ListDocuments(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestLexicalIndex_SearchAndDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	lexical := store.LexicalIndex()

	require.NoError(t, lexical.Index(ctx, domain.Chunk{
		ID: "d1:0000", DocumentID: "d1", TenantID: "tenant-a",
		Text: "the quarterly revenue report shows strong growth",
	}))
	require.NoError(t, lexical.Index(ctx, domain.Chunk{
		ID: "d2:0000", DocumentID: "d2", TenantID: "tenant-a",
		Text: "gardening tips for the winter season",
	}))
	require.NoError(t, lexical.Index(ctx, domain.Chunk{
		ID: "d3:0000", DocumentID: "d3", TenantID: "tenant-b",
		Text: "revenue figures for another tenant entirely",
	}))

	hits, err := lexical.Search(ctx, "tenant-a", "quarterly revenue", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "d1:0000", hits[0].ChunkID)
	for _, hit := range hits {
		assert.NotEqual(t, "d3:0000", hit.ChunkID, "other tenants never leak")
	}

	// Punctuation in queries must not break FTS syntax.
	_, err = lexical.Search(ctx, "tenant-a", `"revenue" -(report)`, 10)
	assert.NoError(t, err)

	// Reindexing a chunk replaces rather than duplicates.
	require.NoError(t, lexical.Index(ctx, domain.Chunk{
		ID: "d1:0000", DocumentID: "d1", TenantID: "tenant-a",
		Text: "revised text about revenue",
	}))
	hits, err = lexical.Search(ctx, "tenant-a", "revenue", 10)
	require.NoError(t, err)
	count := 0
	for _, hit := range hits {
		if hit.ChunkID == "d1:0000" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	require.NoError(t, lexical.DeleteDocument(ctx, "tenant-a", "d1"))
	hits, err = lexical.Search(ctx, "tenant-a", "revenue", 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, "d1:0000", hit.ChunkID)
	}
}

func TestJobQueue_Lifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	queue := store.JobQueue()

	require.NoError(t, queue.Enqueue(ctx, "tenant-a", "doc-1"))
	require.NoError(t, queue.Enqueue(ctx, "tenant-a", "doc-1"), "pending enqueue is a no-op")

	n, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := queue.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", job.DocumentID)
	assert.Equal(t, 1, job.Attempt)

	_, err = queue.Dequeue(ctx, "worker-2")
	assert.ErrorIs(t, err, domain.ErrNotFound, "claimed jobs are invisible")

	require.NoError(t, queue.Nack(ctx, job.ID, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	redelivered, err := queue.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempt)

	require.NoError(t, queue.Ack(ctx, redelivered.ID))
	n, err = queue.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionStore_LeaseAcrossConnections(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	sessions := store.SessionStore()

	session := &domain.ConversationSession{
		ID: "s-1", TenantID: "tenant-a", UserID: "user-1",
	}
	require.NoError(t, sessions.Save(ctx, session))

	require.NoError(t, sessions.AcquireLease(ctx, "s-1", "turn-1", time.Minute))
	err := sessions.AcquireLease(ctx, "s-1", "turn-2", time.Minute)
	assert.ErrorIs(t, err, domain.ErrSessionBusy)

	err = sessions.AcquireLease(ctx, "missing", "turn-1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, sessions.ReleaseLease(ctx, "s-1", "turn-1"))
	require.NoError(t, sessions.AcquireLease(ctx, "s-1", "turn-2", time.Minute))
}

func TestSessionStore_TurnsSurviveReload(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	sessions := store.SessionStore()

	session := &domain.ConversationSession{ID: "s-1", TenantID: "tenant-a"}
	require.NoError(t, sessions.Save(ctx, session))
	require.NoError(t, sessions.AppendTurn(ctx, "s-1", domain.Turn{
		Query:         "what changed?",
		AnswerID:      "a-1",
		AnswerText:    "the terms changed.",
		CitedChunkIDs: []string{"d1:0000"},
		CreatedAt:     time.Now().UTC(),
	}))

	got, err := sessions.Get(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got.Turns, 1)
	assert.Equal(t, "a-1", got.Turns[0].AnswerID)
	assert.Equal(t, []string{"d1:0000"}, got.Turns[0].CitedChunkIDs)
	assert.False(t, got.LastActive.IsZero())
}

func TestEmbeddingCache_RoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()
	cache := store.EmbeddingCache()

	keys := []string{"model:k1", "model:k2"}
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}}
	require.NoError(t, cache.PutBatch(ctx, keys, vectors))

	got, err := cache.GetBatch(ctx, []string{"model:k1", "model:missing", "model:k2"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float32{1, 2, 3}, got[0])
	assert.Nil(t, got[1], "misses come back nil")
	assert.Equal(t, []float32{4, 5, 6}, got[2])

	// First write wins; identical text embeds identically anyway.
	require.NoError(t, cache.PutBatch(ctx, []string{"model:k1"}, [][]float32{{9, 9, 9}}))
	got, err = cache.GetBatch(ctx, []string{"model:k1"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, got[0])
}
