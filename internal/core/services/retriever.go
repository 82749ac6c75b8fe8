package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

// RetrieverConfig tunes hybrid retrieval.
type RetrieverConfig struct {
	// TopK is the default number of candidates returned.
	TopK int

	// FetchFactor is how many times TopK each retrieval path fetches
	// before fusion, to give fusion and filtering headroom.
	FetchFactor int

	// RRFConstant is the k in 1/(k + rank) reciprocal-rank fusion.
	// A tuning parameter, not a fixed constant.
	RRFConstant int

	// RerankTopM bounds how many fused candidates are reranked.
	// Zero disables reranking.
	RerankTopM int

	// RerankLambda balances relevance against diversity in the MMR
	// rerank (1.0 = pure relevance).
	RerankLambda float64

	// MaxPerDocument caps candidates per document so one document
	// cannot dominate results. Zero disables the cap.
	MaxPerDocument int

	// Timeout bounds one retrieval attempt.
	Timeout time.Duration
}

// DefaultRetrieverConfig returns the retrieval defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		TopK:           8,
		FetchFactor:    3,
		RRFConstant:    60,
		RerankTopM:     20,
		RerankLambda:   0.7,
		MaxPerDocument: 3,
		Timeout:        10 * time.Second,
	}
}

// Retriever produces ranked, deduplicated candidate chunks for a query
// using hybrid vector plus lexical search with rank fusion.
type Retriever struct {
	embedder *Embedder
	vectors  driven.VectorIndex
	lexical  driven.LexicalIndex
	docs     driven.DocumentStore
	events   driven.EventSink
	cfg      RetrieverConfig
}

// NewRetriever creates the retriever.
func NewRetriever(
	embedder *Embedder,
	vectors driven.VectorIndex,
	lexical driven.LexicalIndex,
	docs driven.DocumentStore,
	events driven.EventSink,
	cfg RetrieverConfig,
) *Retriever {
	def := DefaultRetrieverConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.FetchFactor <= 0 {
		cfg.FetchFactor = def.FetchFactor
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = def.RRFConstant
	}
	if cfg.RerankLambda <= 0 {
		cfg.RerankLambda = def.RerankLambda
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		lexical:  lexical,
		docs:     docs,
		events:   events,
		cfg:      cfg,
	}
}

// Retrieve returns the top candidates for a query within one tenant's
// corpus. An empty result is valid, not an error. A timed-out attempt is
// retried once with a reduced depth before the error is surfaced.
func (r *Retriever) Retrieve(ctx context.Context, tenantID, query string, filter domain.Filter, topK int) ([]domain.RetrievalCandidate, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	started := time.Now()
	candidates, err := r.retrieveOnce(ctx, tenantID, query, filter, topK)
	if isTimeout(err) {
		reduced := topK / 2
		if reduced < 1 {
			reduced = 1
		}
		logger.Warn("Retrieval timed out for tenant %s, retrying with top_k=%d", tenantID, reduced)
		candidates, err = r.retrieveOnce(ctx, tenantID, query, filter, reduced)
	}
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRetrieverTimeout, err)
		}
		return nil, err
	}

	if r.events != nil {
		r.events.Emit("retrieval.done", map[string]any{
			"tenant_id":  tenantID,
			"candidates": len(candidates),
			"latency_ms": time.Since(started).Milliseconds(),
		})
	}
	return candidates, nil
}

func (r *Retriever) retrieveOnce(ctx context.Context, tenantID, query string, filter domain.Filter, topK int) ([]domain.RetrievalCandidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	fetchK := topK * r.cfg.FetchFactor

	// Run the vector and lexical paths in parallel.
	var (
		wg          sync.WaitGroup
		vectorHits  []driven.VectorHit
		lexicalHits []driven.LexicalHit
		vectorErr   error
		lexicalErr  error
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		queryVec, err := r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			vectorErr = fmt.Errorf("embed query: %w", err)
			return
		}
		vectorHits, vectorErr = r.vectors.Search(ctx, tenantID, queryVec, fetchK, filter)
	}()

	go func() {
		defer wg.Done()
		lexicalHits, lexicalErr = r.lexical.Search(ctx, tenantID, query, fetchK)
	}()

	wg.Wait()

	// Degrade to a single path when only one failed.
	if vectorErr != nil && lexicalErr != nil {
		return nil, fmt.Errorf("hybrid search: vector=%v, lexical=%w", vectorErr, lexicalErr)
	}
	if vectorErr != nil {
		logger.Warn("Vector search failed, using lexical results only: %v", vectorErr)
	}
	if lexicalErr != nil {
		logger.Warn("Lexical search failed, using vector results only: %v", lexicalErr)
	}

	fused := r.fuse(vectorHits, lexicalHits)
	if len(fused) == 0 {
		return []domain.RetrievalCandidate{}, nil
	}

	// Hydrate chunk data for rerank, filtering and context assembly.
	hydrated, err := r.hydrate(ctx, tenantID, filter, fused)
	if err != nil {
		return nil, err
	}

	if r.cfg.RerankTopM > 0 {
		hydrated = r.rerank(ctx, query, hydrated)
	}
	hydrated = r.diversify(hydrated)

	if len(hydrated) > topK {
		hydrated = hydrated[:topK]
	}
	return hydrated, nil
}

// fuse merges the two ranked lists with reciprocal-rank fusion: each
// candidate's score is the sum of 1/(k + rank + 1) across the lists it
// appears in, so presence in both paths can only raise a candidate.
func (r *Retriever) fuse(vectorHits []driven.VectorHit, lexicalHits []driven.LexicalHit) []domain.RetrievalCandidate {
	k := float64(r.cfg.RRFConstant)
	byID := make(map[string]*domain.RetrievalCandidate)

	for rank, hit := range vectorHits {
		c := &domain.RetrievalCandidate{
			ChunkID:     hit.ChunkID,
			DocumentID:  hit.Meta.DocumentID,
			Page:        hit.Meta.Page,
			Score:       1.0 / (k + float64(rank) + 1),
			VectorScore: hit.Similarity,
			Origins:     []domain.CandidateOrigin{domain.OriginVector},
		}
		byID[hit.ChunkID] = c
	}
	for rank, hit := range lexicalHits {
		rrf := 1.0 / (k + float64(rank) + 1)
		if c, ok := byID[hit.ChunkID]; ok {
			c.Score += rrf
			c.LexicalScore = hit.Score
			c.Origins = append(c.Origins, domain.OriginLexical)
			continue
		}
		byID[hit.ChunkID] = &domain.RetrievalCandidate{
			ChunkID:      hit.ChunkID,
			Score:        rrf,
			LexicalScore: hit.Score,
			Origins:      []domain.CandidateOrigin{domain.OriginLexical},
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// hydrate loads chunk text and metadata, dropping candidates whose chunk
// or document has been deleted since indexing, enforcing tenant ownership
// and the metadata filter, and discounting low-confidence OCR text.
func (r *Retriever) hydrate(ctx context.Context, tenantID string, filter domain.Filter, candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	out := make([]domain.RetrievalCandidate, 0, len(candidates))
	docsByID := make(map[string]*domain.Document)
	for _, c := range candidates {
		chunk, err := r.docs.GetChunk(ctx, c.ChunkID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // Deleted since indexing.
			}
			return nil, fmt.Errorf("get chunk %s: %w", c.ChunkID, err)
		}
		if chunk.TenantID != tenantID {
			// Index returned another tenant's chunk: isolation broke.
			return nil, fmt.Errorf("%w: chunk %s belongs to tenant %s", domain.ErrConsistency, chunk.ID, chunk.TenantID)
		}
		if !filter.Empty() {
			// The lexical path matches on text alone, so metadata
			// constraints are enforced here against the document record.
			doc, ok := docsByID[chunk.DocumentID]
			if !ok {
				doc, err = r.docs.GetDocument(ctx, chunk.DocumentID)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						continue
					}
					return nil, fmt.Errorf("get document %s: %w", chunk.DocumentID, err)
				}
				docsByID[chunk.DocumentID] = doc
			}
			if !documentMatches(doc, filter) {
				continue
			}
		}
		c.DocumentID = chunk.DocumentID
		c.Text = chunk.Text
		c.Page = chunk.Page
		if chunk.Confidence > 0 && chunk.Confidence < 1 {
			// Discount OCR-derived text by its confidence.
			c.Score *= chunk.Confidence
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// rerank reorders the fused top-M by maximal marginal relevance using the
// candidates' embeddings (cache hits from ingestion), trading relevance
// against redundancy.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	m := r.cfg.RerankTopM
	if m > len(candidates) {
		m = len(candidates)
	}
	if m < 2 {
		return candidates
	}
	head, tail := candidates[:m], candidates[m:]

	texts := make([]string, 0, m+1)
	texts = append(texts, query)
	for _, c := range head {
		texts = append(texts, c.Text)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		logger.Warn("Rerank embedding failed, keeping fused order: %v", err)
		return candidates
	}
	queryVec, candVecs := vecs[0], vecs[1:]

	lambda := r.cfg.RerankLambda
	pool := make([]int, m)
	for i := range pool {
		pool[i] = i
	}
	selected := make([]domain.RetrievalCandidate, 0, m)
	selectedVecs := make([][]float32, 0, m)

	for len(pool) > 0 {
		bestAt, bestScore := -1, math.Inf(-1)
		for at, idx := range pool {
			simQuery := cosine(queryVec, candVecs[idx])
			simSelected := 0.0
			for _, sv := range selectedVecs {
				if s := cosine(candVecs[idx], sv); s > simSelected {
					simSelected = s
				}
			}
			score := lambda*simQuery - (1-lambda)*simSelected
			if score > bestScore {
				bestScore = score
				bestAt = at
			}
		}
		idx := pool[bestAt]
		pool = append(pool[:bestAt], pool[bestAt+1:]...)
		selected = append(selected, head[idx])
		selectedVecs = append(selectedVecs, candVecs[idx])
	}

	return append(selected, tail...)
}

// diversify drops near-duplicate chunks (same or adjacent chunk of one
// document) and enforces the per-document cap.
func (r *Retriever) diversify(candidates []domain.RetrievalCandidate) []domain.RetrievalCandidate {
	perDoc := make(map[string]int)
	kept := make([]domain.RetrievalCandidate, 0, len(candidates))

	for _, c := range candidates {
		adjacent := false
		for _, k := range kept {
			if k.DocumentID == c.DocumentID && chunksAdjacent(k.ChunkID, c.ChunkID) {
				adjacent = true
				break
			}
		}
		if adjacent {
			continue
		}
		if r.cfg.MaxPerDocument > 0 && perDoc[c.DocumentID] >= r.cfg.MaxPerDocument {
			continue
		}
		perDoc[c.DocumentID]++
		kept = append(kept, c)
	}
	return kept
}

// chunksAdjacent reports whether two deterministic chunk IDs of one
// document are the same or neighbouring ordinals.
func chunksAdjacent(a, b string) bool {
	var ordA, ordB int
	ai := len(a) - 1
	for ai >= 0 && a[ai] != ':' {
		ai--
	}
	bi := len(b) - 1
	for bi >= 0 && b[bi] != ':' {
		bi--
	}
	if ai < 0 || bi < 0 || a[:ai] != b[:bi] {
		return false
	}
	if _, err := fmt.Sscanf(a[ai+1:], "%d", &ordA); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(b[bi+1:], "%d", &ordB); err != nil {
		return false
	}
	diff := ordA - ordB
	return diff >= -1 && diff <= 1
}

// documentMatches applies the metadata filter to a candidate's document.
func documentMatches(doc *domain.Document, filter domain.Filter) bool {
	if len(filter.DocumentIDs) > 0 && !containsString(filter.DocumentIDs, doc.ID) {
		return false
	}
	if len(filter.MIMEs) > 0 && !containsString(filter.MIMEs, doc.MIME) {
		return false
	}
	if len(filter.Tags) > 0 {
		found := false
		for _, want := range filter.Tags {
			if containsString(doc.Tags, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.CreatedAfter.IsZero() && doc.CreatedAt.Before(filter.CreatedAfter) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && doc.CreatedAt.After(filter.CreatedBefore) {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// isTimeout reports whether the error chain is a deadline expiry.
func isTimeout(err error) bool {
	return err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrRetrieverTimeout))
}
