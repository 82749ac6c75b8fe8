package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/hash"
	"github.com/archon-labs/docbrain/internal/logger"
)

// EmbedderConfig tunes the batching layer in front of the embedding
// provider.
type EmbedderConfig struct {
	// MaxBatch is the largest batch sent to the provider in one call.
	MaxBatch int

	// MaxWait bounds how long a request may sit in the coalescing
	// window before dispatch, enforcing an upper latency bound.
	MaxWait time.Duration

	// RequestsPerSecond throttles provider calls. Zero disables.
	RequestsPerSecond float64
}

// DefaultEmbedderConfig returns the batching defaults.
func DefaultEmbedderConfig() EmbedderConfig {
	return EmbedderConfig{MaxBatch: 64, MaxWait: 50 * time.Millisecond}
}

type embedResult struct {
	vector []float32
	err    error
}

// embedJob is one unique pending text. Concurrent requests for identical
// text share a job, so the same content is never embedded twice.
type embedJob struct {
	key     string
	text    string
	replies []chan embedResult
}

// Embedder batches embedding requests across callers and serves repeats
// from the shared cache. Requests from independent documents and queries
// may be coalesced into one underlying call; already-dispatched batches
// are never aborted by caller cancellation, so their results still
// populate the cache.
type Embedder struct {
	provider driven.EmbeddingProvider
	cache    driven.EmbeddingCache
	events   driven.EventSink
	cfg      EmbedderConfig
	limiter  *rate.Limiter

	mu      sync.Mutex
	pending map[string]*embedJob
	order   []string
	timer   *time.Timer
	closed  bool
}

// NewEmbedder creates the batching embedder. The cache is optional.
func NewEmbedder(provider driven.EmbeddingProvider, cache driven.EmbeddingCache, events driven.EventSink, cfg EmbedderConfig) *Embedder {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultEmbedderConfig().MaxBatch
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultEmbedderConfig().MaxWait
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Embedder{
		provider: provider,
		cache:    cache,
		events:   events,
		cfg:      cfg,
		limiter:  limiter,
		pending:  make(map[string]*embedJob),
	}
}

// ModelName returns the underlying model identifier.
func (e *Embedder) ModelName() string { return e.provider.ModelName() }

// Dimensions returns the vector size of the underlying model.
func (e *Embedder) Dimensions() int { return e.provider.Dimensions() }

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts, serving cache hits without a provider call.
// result[i] corresponds to texts[i] regardless of which entries were
// cached.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = hash.CacheKey(e.provider.ModelName(), t)
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	if e.cache != nil {
		cached, err := e.cache.GetBatch(ctx, keys)
		if err != nil {
			logger.Warn("Embedding cache read failed: %v", err)
			cached = make([][]float32, len(texts))
		}
		for i, vec := range cached {
			if vec != nil {
				out[i] = vec
			} else {
				missIdx = append(missIdx, i)
			}
		}
	} else {
		for i := range texts {
			missIdx = append(missIdx, i)
		}
	}

	if e.events != nil {
		e.events.Emit("embedding.batch", map[string]any{
			"texts":          len(texts),
			"cache_hits":     len(texts) - len(missIdx),
			"cache_hit_rate": float64(len(texts)-len(missIdx)) / float64(len(texts)),
		})
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	// Enqueue misses with the coalescer and await replies.
	replies := make([]chan embedResult, len(missIdx))
	for n, i := range missIdx {
		replies[n] = e.submit(keys[i], texts[i])
	}
	for n, i := range missIdx {
		select {
		case res := <-replies[n]:
			if res.err != nil {
				return nil, res.err
			}
			out[i] = res.vector
		case <-ctx.Done():
			// The dispatched batch keeps running and will populate
			// the cache for future callers.
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// submit adds a text to the coalescing window and returns its reply channel.
func (e *Embedder) submit(key, text string) chan embedResult {
	reply := make(chan embedResult, 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if job, ok := e.pending[key]; ok {
		job.replies = append(job.replies, reply)
		return reply
	}

	e.pending[key] = &embedJob{key: key, text: text, replies: []chan embedResult{reply}}
	e.order = append(e.order, key)

	if len(e.order) >= e.cfg.MaxBatch {
		e.flushLocked()
	} else if e.timer == nil {
		e.timer = time.AfterFunc(e.cfg.MaxWait, e.flush)
	}
	return reply
}

func (e *Embedder) flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()
}

// flushLocked takes the pending window and dispatches it on its own
// goroutine so collection continues while the provider call is in flight.
func (e *Embedder) flushLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if len(e.order) == 0 {
		return
	}
	jobs := make([]*embedJob, len(e.order))
	for i, key := range e.order {
		jobs[i] = e.pending[key]
		delete(e.pending, key)
	}
	e.order = e.order[:0]

	go e.dispatch(jobs)
}

// dispatch runs one provider batch. It deliberately uses a background
// context: cancellation of any caller must not abort a batch that other
// callers, or the cache, still benefit from.
func (e *Embedder) dispatch(jobs []*embedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.fail(jobs, err)
			return
		}
	}

	texts := make([]string, len(jobs))
	for i, j := range jobs {
		texts[i] = j.text
	}

	vectors, err := e.provider.EmbedBatch(ctx, texts)
	if err != nil {
		e.fail(jobs, err)
		return
	}
	if len(vectors) != len(jobs) {
		e.fail(jobs, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrEmbeddingUnavailable, len(vectors), len(jobs)))
		return
	}
	want := e.provider.Dimensions()
	for _, vec := range vectors {
		if len(vec) != want {
			e.fail(jobs, fmt.Errorf("%w: got %d, model %s declares %d", domain.ErrDimensionMismatch, len(vec), e.provider.ModelName(), want))
			return
		}
	}

	if e.cache != nil {
		keys := make([]string, len(jobs))
		for i, j := range jobs {
			keys[i] = j.key
		}
		if err := e.cache.PutBatch(ctx, keys, vectors); err != nil {
			logger.Warn("Embedding cache write failed: %v", err)
		}
	}

	for i, j := range jobs {
		for _, reply := range j.replies {
			reply <- embedResult{vector: vectors[i]}
		}
	}
}

func (e *Embedder) fail(jobs []*embedJob, err error) {
	logger.Warn("Embedding batch failed: %v", err)
	for _, j := range jobs {
		for _, reply := range j.replies {
			reply <- embedResult{err: err}
		}
	}
}

// Close flushes any pending window and releases the provider.
func (e *Embedder) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		e.flushLocked()
	}
	e.mu.Unlock()
	return e.provider.Close()
}
