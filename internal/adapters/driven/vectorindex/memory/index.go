// Package memory provides an exact nearest-neighbour vector index held
// in process memory, partitioned by tenant. The index is rebuilt from the
// document store at startup, so durability rides on chunk persistence
// rather than on an index file.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

type entry struct {
	vector []float32
	norm   float64
	meta   driven.EntryMeta
}

type partition struct {
	mu      sync.RWMutex
	entries map[string]entry // chunkID -> entry
}

// Index is an in-memory cosine-similarity vector index. Tenants get
// independent partitions so searches and writes for different tenants
// never contend on one lock.
type Index struct {
	mu         sync.RWMutex
	partitions map[string]*partition
}

// New creates an empty index.
func New() *Index {
	return &Index{partitions: make(map[string]*partition)}
}

func (ix *Index) partition(tenantID string, create bool) *partition {
	ix.mu.RLock()
	p, ok := ix.partitions[tenantID]
	ix.mu.RUnlock()
	if ok || !create {
		return p
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if p, ok = ix.partitions[tenantID]; ok {
		return p
	}
	p = &partition{entries: make(map[string]entry)}
	ix.partitions[tenantID] = p
	return p
}

// Upsert inserts or replaces the vector for a chunk.
func (ix *Index) Upsert(_ context.Context, tenantID, chunkID string, vector []float32, meta driven.EntryMeta) error {
	if len(vector) == 0 {
		return domain.ErrInvalidInput
	}
	p := ix.partition(tenantID, true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[chunkID] = entry{vector: vector, norm: vectorNorm(vector), meta: meta}
	return nil
}

// Search returns the k most similar entries for the tenant, best first.
func (ix *Index) Search(_ context.Context, tenantID string, query []float32, k int, filter domain.Filter) ([]driven.VectorHit, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}
	p := ix.partition(tenantID, false)
	if p == nil {
		return nil, nil
	}
	queryNorm := vectorNorm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	hits := make([]driven.VectorHit, 0, len(p.entries))
	for chunkID, e := range p.entries {
		if len(e.vector) != len(query) || e.norm == 0 {
			continue
		}
		if !matchesFilter(e.meta, filter) {
			continue
		}
		sim := dot(query, e.vector) / (queryNorm * e.norm)
		hits = append(hits, driven.VectorHit{ChunkID: chunkID, Similarity: sim, Meta: e.meta})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteDocument removes all entries belonging to a document.
func (ix *Index) DeleteDocument(_ context.Context, tenantID, documentID string) error {
	p := ix.partition(tenantID, false)
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for chunkID, e := range p.entries {
		if e.meta.DocumentID == documentID {
			delete(p.entries, chunkID)
		}
	}
	return nil
}

// Close releases resources.
func (ix *Index) Close() error {
	return nil
}

// Len reports how many entries a tenant's partition holds.
func (ix *Index) Len(tenantID string) int {
	p := ix.partition(tenantID, false)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Rebuild repopulates the index from persisted chunk embeddings. Chunks
// without an embedding are skipped; their documents are mid-pipeline and
// the orchestrator will index them on resume.
func (ix *Index) Rebuild(ctx context.Context, docs driven.DocumentStore, tenantIDs []string) error {
	start := time.Now()
	total := 0
	for _, tenantID := range tenantIDs {
		documents, err := docs.ListDocuments(ctx, tenantID)
		if err != nil {
			return err
		}
		for _, doc := range documents {
			if doc.State != domain.StateIndexed || doc.AliasOf != "" {
				continue
			}
			chunks, err := docs.GetChunks(ctx, doc.ID)
			if err != nil {
				return err
			}
			for _, chunk := range chunks {
				if len(chunk.Embedding) == 0 {
					continue
				}
				meta := driven.EntryMeta{
					DocumentID: doc.ID,
					Page:       chunk.Page,
					MIME:       doc.MIME,
					Tags:       doc.Tags,
					CreatedAt:  doc.CreatedAt.Unix(),
				}
				if err := ix.Upsert(ctx, tenantID, chunk.ID, chunk.Embedding, meta); err != nil {
					return err
				}
				total++
			}
		}
	}
	logger.Debug("Rebuilt vector index: %d entries across %d tenants in %s", total, len(tenantIDs), time.Since(start))
	return nil
}

func matchesFilter(meta driven.EntryMeta, filter domain.Filter) bool {
	if filter.Empty() {
		return true
	}
	if len(filter.DocumentIDs) > 0 && !contains(filter.DocumentIDs, meta.DocumentID) {
		return false
	}
	if len(filter.MIMEs) > 0 && !contains(filter.MIMEs, meta.MIME) {
		return false
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, want := range filter.Tags {
			if contains(meta.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.CreatedAfter.IsZero() && meta.CreatedAt < filter.CreatedAfter.Unix() {
		return false
	}
	if !filter.CreatedBefore.IsZero() && meta.CreatedAt > filter.CreatedBefore.Unix() {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func vectorNorm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
