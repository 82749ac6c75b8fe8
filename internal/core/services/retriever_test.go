package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/adapters/driven/storage/memory"
	vecmem "github.com/archon-labs/docbrain/internal/adapters/driven/vectorindex/memory"
	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

type retrieveHarness struct {
	retriever *Retriever
	docs      *memory.DocumentStore
	vectors   *vecmem.Index
	lexical   *memory.LexicalIndex
	embedder  *Embedder
	provider  *fakeEmbeddingProvider
}

func newRetrieveHarness(t *testing.T, cfg RetrieverConfig) *retrieveHarness {
	t.Helper()
	h := &retrieveHarness{
		docs:     memory.NewDocumentStore(),
		vectors:  vecmem.New(),
		lexical:  memory.NewLexicalIndex(),
		provider: newFakeEmbeddingProvider(),
	}
	h.embedder = NewEmbedder(h.provider, memory.NewEmbeddingCache(), nil, EmbedderConfig{MaxBatch: 32, MaxWait: 5 * time.Millisecond})
	t.Cleanup(func() { h.embedder.Close() })
	h.retriever = NewRetriever(h.embedder, h.vectors, h.lexical, h.docs, nil, cfg)
	return h
}

// seed indexes one chunk in both retrieval paths.
func (h *retrieveHarness) seed(t *testing.T, tenantID, docID string, ordinal int, text string) string {
	t.Helper()
	ctx := context.Background()
	chunk := domain.Chunk{
		ID:         domain.ChunkID(docID, ordinal),
		DocumentID: docID,
		TenantID:   tenantID,
		Ordinal:    ordinal,
		Text:       text,
		Page:       1,
	}
	require.NoError(t, h.docs.SaveChunks(ctx, []domain.Chunk{chunk}))
	vec := fakeVector(text, h.provider.Dimensions())
	require.NoError(t, h.vectors.Upsert(ctx, tenantID, chunk.ID, vec, driven.EntryMeta{DocumentID: docID, Page: 1}))
	require.NoError(t, h.lexical.Index(ctx, chunk))
	return chunk.ID
}

func TestRetriever_EmptyCorpusIsValid(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{})

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "anything at all", domain.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRetriever_HybridFindsLexicalOnlyMatch(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0})

	h.seed(t, "tenant-a", "d1", 0, "the quarterly revenue grew substantially")
	h.seed(t, "tenant-a", "d2", 0, "unrelated musings about gardening")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "quarterly revenue", domain.Filter{}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "d1", candidates[0].DocumentID)
	assert.NotEmpty(t, candidates[0].Text)
}

func TestRetriever_FusionIsMonotonic(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0, MaxPerDocument: 10})

	// Both chunks match lexically; only one shares vocabulary buckets
	// with the query strongly enough to also rank high on vectors.
	both := h.seed(t, "tenant-a", "d1", 0, "revenue growth across the quarter was strong")
	h.seed(t, "tenant-a", "d2", 0, "zzz qqq revenue xxx vvv kkk jjj")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "revenue growth quarter strong", domain.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	var bothScore, singleScore float64
	for _, c := range candidates {
		if c.ChunkID == both {
			bothScore = c.Score
			assert.Contains(t, c.Origins, domain.OriginVector)
			assert.Contains(t, c.Origins, domain.OriginLexical)
		} else {
			singleScore = c.Score
		}
	}
	assert.Greater(t, bothScore, singleScore, "a candidate in both lists must outrank a single-list one")
}

func TestRetriever_TenantIsolation(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0})

	h.seed(t, "tenant-a", "d1", 0, "confidential merger plans for acquisition")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-b", "merger acquisition plans", domain.Filter{}, 5)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestRetriever_FilterCoversLexicalOnlyMatches(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0})
	ctx := context.Background()

	now := time.Now().UTC()
	for _, id := range []string{"doc-a", "doc-b"} {
		require.NoError(t, h.docs.SaveDocument(ctx, &domain.Document{
			ID: id, TenantID: "tenant-a", State: domain.StateIndexed,
			MIME: "text/plain", CreatedAt: now,
		}))
	}
	h.seed(t, "tenant-a", "doc-a", 0, "gardening notes for the spring season")
	h.seed(t, "tenant-a", "doc-b", 0, "the quarterly revenue grew substantially")

	// doc-b matches the query on keywords alone; restricting the filter
	// to doc-a must still exclude it.
	candidates, err := h.retriever.Retrieve(ctx, "tenant-a", "quarterly revenue",
		domain.Filter{DocumentIDs: []string{"doc-a"}}, 5)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, "doc-b", c.DocumentID)
	}

	// Unfiltered, the same query surfaces doc-b.
	candidates, err = h.retriever.Retrieve(ctx, "tenant-a", "quarterly revenue", domain.Filter{}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, "doc-b", candidates[0].DocumentID)
}

func TestRetriever_AdjacentChunksDeduplicated(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0, MaxPerDocument: 10})

	// Consecutive chunks of one document carry overlapping text.
	h.seed(t, "tenant-a", "d1", 0, "contract termination clauses and notice periods")
	h.seed(t, "tenant-a", "d1", 1, "notice periods and contract termination details")
	h.seed(t, "tenant-a", "d1", 5, "contract renewal terms in a distant section")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "contract termination notice", domain.Filter{}, 10)
	require.NoError(t, err)

	ords := make(map[string]bool)
	for _, c := range candidates {
		ords[c.ChunkID] = true
	}
	// Ordinals 0 and 1 are adjacent; only one survives.
	assert.False(t, ords[domain.ChunkID("d1", 0)] && ords[domain.ChunkID("d1", 1)],
		"adjacent chunks must not both appear")
}

func TestRetriever_PerDocumentCap(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0, MaxPerDocument: 2})

	for i := 0; i < 6; i += 2 { // Non-adjacent ordinals.
		h.seed(t, "tenant-a", "d1", i, "insurance policy coverage limits explained")
	}
	h.seed(t, "tenant-a", "d2", 0, "insurance policy overview")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "insurance policy coverage", domain.Filter{}, 10)
	require.NoError(t, err)

	perDoc := make(map[string]int)
	for _, c := range candidates {
		perDoc[c.DocumentID]++
	}
	assert.LessOrEqual(t, perDoc["d1"], 2)
}

func TestRetriever_DroppedChunkSkipped(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 0})
	ctx := context.Background()

	// Index entry exists but the chunk row is gone (deleted mid-flight).
	vec := fakeVector("orphaned entry", h.provider.Dimensions())
	require.NoError(t, h.vectors.Upsert(ctx, "tenant-a", "ghost:0000", vec, driven.EntryMeta{DocumentID: "ghost"}))
	h.seed(t, "tenant-a", "d1", 0, "orphaned entry cleanup procedures")

	candidates, err := h.retriever.Retrieve(ctx, "tenant-a", "orphaned entry", domain.Filter{}, 5)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.NotEqual(t, "ghost:0000", c.ChunkID)
	}
}

func TestRetriever_RerankKeepsRelevantFirst(t *testing.T) {
	h := newRetrieveHarness(t, RetrieverConfig{RerankTopM: 10, RerankLambda: 0.9, MaxPerDocument: 10})

	best := h.seed(t, "tenant-a", "d1", 0, "solar panel installation cost breakdown")
	h.seed(t, "tenant-a", "d2", 0, "wind turbine maintenance schedule")
	h.seed(t, "tenant-a", "d3", 0, "solar panel warranty conditions")

	candidates, err := h.retriever.Retrieve(context.Background(), "tenant-a", "solar panel installation cost", domain.Filter{}, 3)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	assert.Equal(t, best, candidates[0].ChunkID)
}

func TestChunksAdjacent(t *testing.T) {
	assert.True(t, chunksAdjacent("doc:0001", "doc:0002"))
	assert.True(t, chunksAdjacent("doc:0002", "doc:0001"))
	assert.True(t, chunksAdjacent("doc:0001", "doc:0001"))
	assert.False(t, chunksAdjacent("doc:0001", "doc:0003"))
	assert.False(t, chunksAdjacent("doc-a:0001", "doc-b:0002"))
	assert.False(t, chunksAdjacent("noseparator", "doc:0001"))
}
