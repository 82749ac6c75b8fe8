package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/adapters/driven/storage/memory"
	"github.com/archon-labs/docbrain/internal/core/domain"
)

func newTestEmbedder(provider *fakeEmbeddingProvider) (*Embedder, *memory.EmbeddingCache) {
	cache := memory.NewEmbeddingCache()
	e := NewEmbedder(provider, cache, nil, EmbedderConfig{MaxBatch: 4, MaxWait: 10 * time.Millisecond})
	return e, cache
}

func TestEmbedder_PreservesOrder(t *testing.T) {
	provider := newFakeEmbeddingProvider()
	e, _ := newTestEmbedder(provider)
	defer e.Close()

	texts := []string{"alpha report", "beta summary", "gamma analysis"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range texts {
		assert.Equal(t, fakeVector(text, provider.Dimensions()), vecs[i], "vector %d", i)
	}
}

func TestEmbedder_CacheHitSkipsProvider(t *testing.T) {
	provider := newFakeEmbeddingProvider()
	e, cache := newTestEmbedder(provider)
	defer e.Close()
	ctx := context.Background()

	first, err := e.EmbedBatch(ctx, []string{"quarterly revenue"})
	require.NoError(t, err)
	require.Equal(t, 1, provider.callCount())
	assert.Equal(t, 1, cache.Len())

	second, err := e.EmbedBatch(ctx, []string{"quarterly revenue"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.callCount(), "cache hit must not call the provider")

	// Whitespace normalization shares the cache entry.
	third, err := e.EmbedBatch(ctx, []string{"  quarterly   revenue  "})
	require.NoError(t, err)
	assert.Equal(t, first[0], third[0])
	assert.Equal(t, 1, provider.callCount())
}

func TestEmbedder_DuplicateTextsOneUnderlyingCall(t *testing.T) {
	provider := newFakeEmbeddingProvider()
	e, _ := newTestEmbedder(provider)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"same text", "same text", "same text"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, vecs[1], vecs[2])
	assert.Equal(t, 1, provider.callCount())
	assert.Len(t, provider.embeddedTexts(), 1, "identical texts must share one job")
}

func TestEmbedder_CoalescesConcurrentCallers(t *testing.T) {
	provider := newFakeEmbeddingProvider()
	e, _ := newTestEmbedder(provider)
	defer e.Close()

	var wg sync.WaitGroup
	texts := []string{"first caller text", "second caller text", "third caller text", "fourth caller text"}
	for _, text := range texts {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			vecs, err := e.EmbedBatch(context.Background(), []string{text})
			assert.NoError(t, err)
			assert.Len(t, vecs, 1)
		}(text)
	}
	wg.Wait()

	// Four unique texts arriving inside one window fill MaxBatch=4 and
	// dispatch as a single provider call.
	assert.Equal(t, 1, provider.callCount())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	// A provider whose declared dimensions disagree with its output must
	// surface the mismatch rather than cache bad vectors.
	mismatched := &dimensionLiar{inner: newFakeEmbeddingProvider()}
	e := NewEmbedder(mismatched, memory.NewEmbeddingCache(), nil, EmbedderConfig{MaxBatch: 4, MaxWait: 5 * time.Millisecond})
	defer e.Close()

	_, err := e.EmbedBatch(context.Background(), []string{"some text"})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

// dimensionLiar declares a different dimension than it produces.
type dimensionLiar struct {
	inner *fakeEmbeddingProvider
}

func (d *dimensionLiar) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return d.inner.EmbedBatch(ctx, texts)
}
func (d *dimensionLiar) Dimensions() int            { return d.inner.Dimensions() + 1 }
func (d *dimensionLiar) ModelName() string          { return d.inner.ModelName() }
func (d *dimensionLiar) Ping(context.Context) error { return nil }
func (d *dimensionLiar) Close() error               { return nil }

func TestEmbedder_EmptyInput(t *testing.T) {
	provider := newFakeEmbeddingProvider()
	e, _ := newTestEmbedder(provider)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Zero(t, provider.callCount())
}
