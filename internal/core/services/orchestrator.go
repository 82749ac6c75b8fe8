package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archon-labs/docbrain/internal/chunker"
	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
	"github.com/archon-labs/docbrain/internal/hash"
	"github.com/archon-labs/docbrain/internal/logger"
)

// Ensure IngestOrchestrator implements the interface.
var _ driving.Ingestor = (*IngestOrchestrator)(nil)

// Pipeline stage names used in failure reports and events.
const (
	stageExtract = "extract"
	stageChunk   = "chunk"
	stageEmbed   = "embed"
	stageIndex   = "index"
)

// stageError tags a pipeline error with the stage it occurred in, so
// failure reports name the stage that actually broke rather than one
// inferred from the error kind.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func stageFail(stage, format string, args ...any) error {
	return &stageError{stage: stage, err: fmt.Errorf(format, args...)}
}

// OrchestratorConfig tunes ingestion behaviour.
type OrchestratorConfig struct {
	// Chunking is the window configuration passed to the chunker.
	Chunking domain.ChunkConfig

	// MaxAttempts bounds retries of transient failures before a
	// document is marked failed.
	MaxAttempts int

	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	// StageTimeout bounds each external call (extraction, embedding,
	// index writes).
	StageTimeout time.Duration
}

// DefaultOrchestratorConfig returns the ingestion defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Chunking:     domain.DefaultChunkConfig(),
		MaxAttempts:  4,
		BaseBackoff:  2 * time.Second,
		StageTimeout: 2 * time.Minute,
	}
}

// IngestOrchestrator drives documents through extraction, chunking,
// embedding and indexing as one resumable unit of work per document.
type IngestOrchestrator struct {
	docs      driven.DocumentStore
	files     driven.FileStore
	queue     driven.JobQueue
	extractor driven.Extractor
	chunker   *chunker.Chunker
	embedder  *Embedder
	vectors   driven.VectorIndex
	lexical   driven.LexicalIndex
	events    driven.EventSink
	cfg       OrchestratorConfig

	// locks serialises processing per document within this process;
	// across processes the queue's visibility lease does the same.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIngestOrchestrator creates the orchestrator.
func NewIngestOrchestrator(
	docs driven.DocumentStore,
	files driven.FileStore,
	queue driven.JobQueue,
	extractor driven.Extractor,
	embedder *Embedder,
	vectors driven.VectorIndex,
	lexical driven.LexicalIndex,
	events driven.EventSink,
	cfg OrchestratorConfig,
) (*IngestOrchestrator, error) {
	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultOrchestratorConfig().MaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultOrchestratorConfig().BaseBackoff
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultOrchestratorConfig().StageTimeout
	}
	return &IngestOrchestrator{
		docs:      docs,
		files:     files,
		queue:     queue,
		extractor: extractor,
		chunker:   ch,
		embedder:  embedder,
		vectors:   vectors,
		lexical:   lexical,
		events:    events,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Ingest registers a document and enqueues it for asynchronous processing.
func (o *IngestOrchestrator) Ingest(ctx context.Context, req driving.IngestRequest) (string, error) {
	if req.TenantID == "" || req.FileRef == "" {
		return "", fmt.Errorf("%w: tenant and file reference are required", domain.ErrInvalidInput)
	}

	contentHash, err := o.hashFile(ctx, req.FileRef)
	if err != nil {
		return "", fmt.Errorf("hash upload: %w", err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          uuid.New().String(),
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Name:        req.Name,
		FileRef:     req.FileRef,
		MIME:        req.MIME,
		ContentHash: contentHash,
		State:       domain.StateReceived,
		Progress:    domain.StateProgress(domain.StateReceived),
		Tags:        req.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.docs.SaveDocument(ctx, doc); err != nil {
		return "", fmt.Errorf("save document: %w", err)
	}
	if err := o.queue.Enqueue(ctx, req.TenantID, doc.ID); err != nil {
		return "", fmt.Errorf("enqueue document: %w", err)
	}

	o.emit("document.received", doc, nil)
	logger.Info("Ingest queued: doc=%s tenant=%s name=%q", doc.ID, doc.TenantID, doc.Name)
	return doc.ID, nil
}

// Status reports a document's pipeline progress.
func (o *IngestOrchestrator) Status(ctx context.Context, tenantID, documentID string) (*driving.DocumentStatus, error) {
	doc, err := o.getTenantDocument(ctx, tenantID, documentID)
	if err != nil {
		return nil, err
	}
	return &driving.DocumentStatus{
		DocumentID:  doc.ID,
		State:       doc.State,
		Progress:    doc.Progress,
		FailedStage: doc.FailedStage,
		Error:       doc.LastError,
		Retryable:   doc.Retryable,
	}, nil
}

// Delete removes a document, cascading to its chunks, vectors and lexical
// entries. Duplicate uploads aliased to it hold no content of their own,
// so they are deleted with it. Shared embedding cache entries are global
// and untouched.
func (o *IngestOrchestrator) Delete(ctx context.Context, tenantID, documentID string) error {
	doc, err := o.getTenantDocument(ctx, tenantID, documentID)
	if err != nil {
		return err
	}
	if doc.State == domain.StateDeleted {
		return domain.ErrNotFound
	}

	if err := o.vectors.DeleteDocument(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := o.lexical.DeleteDocument(ctx, tenantID, documentID); err != nil {
		return fmt.Errorf("delete lexical entries: %w", err)
	}
	if err := o.docs.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	o.emit("document.deleted", doc, nil)

	if doc.AliasOf == "" {
		if err := o.deleteAliases(ctx, tenantID, documentID); err != nil {
			return err
		}
	}
	return nil
}

// deleteAliases removes duplicate uploads linked to a deleted original.
// Aliases carry no chunks or index entries, only the document record.
func (o *IngestOrchestrator) deleteAliases(ctx context.Context, tenantID, documentID string) error {
	documents, err := o.docs.ListDocuments(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("list aliases: %w", err)
	}
	for i := range documents {
		alias := &documents[i]
		if alias.AliasOf != documentID {
			continue
		}
		if err := o.docs.DeleteDocument(ctx, alias.ID); err != nil {
			return fmt.Errorf("delete alias %s: %w", alias.ID, err)
		}
		o.emit("document.deleted", alias, map[string]any{"alias_of": documentID})
	}
	return nil
}

// HandleJob processes one queued document end to end, acking or nacking
// the job according to the failure policy. Errors are only returned for
// queue infrastructure problems; pipeline failures are recorded on the
// document.
func (o *IngestOrchestrator) HandleJob(ctx context.Context, job *driven.IngestJob) error {
	unlock := o.lockDocument(job.DocumentID)
	defer unlock()

	err := o.process(ctx, job)
	if err == nil {
		return o.queue.Ack(ctx, job.ID)
	}

	stage, retryable := classify(err)
	if retryable && job.Attempt < o.cfg.MaxAttempts {
		delay := o.backoff(job.Attempt)
		logger.Warn("Stage %s failed for doc %s (attempt %d/%d), retrying in %s: %v",
			stage, job.DocumentID, job.Attempt, o.cfg.MaxAttempts, delay, err)
		return o.queue.Nack(ctx, job.ID, delay)
	}

	logger.Warn("Document %s failed at stage %s: %v", job.DocumentID, stage, err)
	if recErr := o.docs.RecordFailure(ctx, job.DocumentID, stage, err.Error(), retryable); recErr != nil {
		logger.Warn("Failed to record failure for doc %s: %v", job.DocumentID, recErr)
	}
	if o.events != nil {
		o.events.Emit("document.failed", map[string]any{
			"document_id": job.DocumentID,
			"tenant_id":   job.TenantID,
			"stage":       stage,
			"retryable":   retryable,
			"attempt":     job.Attempt,
		})
	}
	return o.queue.Ack(ctx, job.ID)
}

// process resumes the document from its first unfinished stage.
func (o *IngestOrchestrator) process(ctx context.Context, job *driven.IngestJob) error {
	doc, err := o.docs.GetDocument(ctx, job.DocumentID)
	if err != nil {
		return fmt.Errorf("%w: load document: %v", domain.ErrConsistency, err)
	}
	if doc.TenantID != job.TenantID {
		return fmt.Errorf("%w: job tenant %s does not own document %s", domain.ErrConsistency, job.TenantID, doc.ID)
	}

	switch doc.State {
	case domain.StateIndexed, domain.StateDeleted:
		return nil // Nothing left to do.
	case domain.StateFailed:
		if !doc.Retryable {
			return nil
		}
	}

	// Duplicate upload: byte-identical content already indexed for this
	// tenant short-circuits to indexed, sharing the original's chunks.
	if doc.State == domain.StateReceived {
		if original, err := o.docs.FindByContentHash(ctx, doc.TenantID, doc.ContentHash); err == nil && original.ID != doc.ID {
			logger.Info("Duplicate upload %s matches indexed doc %s, linking", doc.ID, original.ID)
			doc.AliasOf = original.ID
			doc.State = domain.StateIndexed
			doc.Progress = domain.StateProgress(domain.StateIndexed)
			if err := o.docs.SaveDocument(ctx, doc); err != nil {
				return fmt.Errorf("link duplicate: %w", err)
			}
			o.emit("document.deduplicated", doc, map[string]any{"alias_of": original.ID})
			return nil
		}
	}

	// Stage 1: extract + chunk. The extracting state never survives a
	// durable chunk write, so resuming from received or extracting
	// re-runs extraction (blocks are ephemeral), while chunking or
	// later never does.
	if doc.State == domain.StateReceived || doc.State == domain.StateExtracting ||
		(doc.State == domain.StateFailed && stateBeforeChunks(doc.FailedStage)) {
		if err := o.extractAndChunk(ctx, doc); err != nil {
			return err
		}
	}

	if doc.State == domain.StateFailed {
		// Chunks survived the failure; resume from the embedding stage.
		doc.State = domain.StateEmbedding
		doc.FailedStage = ""
		doc.LastError = ""
		doc.Progress = domain.StateProgress(domain.StateEmbedding)
		if err := o.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("reset failed document: %w", err)
		}
	}

	// Stage 2: embed + index.
	if err := o.embedAndIndex(ctx, doc); err != nil {
		return err
	}
	return nil
}

// extractAndChunk runs extraction and persists chunks; the state moves to
// chunking atomically with the chunk write.
func (o *IngestOrchestrator) extractAndChunk(ctx context.Context, doc *domain.Document) error {
	if doc.State == domain.StateReceived {
		if err := o.transition(ctx, doc, domain.StateExtracting); err != nil {
			return err
		}
	} else if doc.State == domain.StateFailed {
		// Retried failure: rewind the record to the extracting state.
		doc.State = domain.StateExtracting
		doc.FailedStage = ""
		doc.LastError = ""
		doc.Progress = domain.StateProgress(domain.StateExtracting)
		if err := o.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("reset failed document: %w", err)
		}
	}

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	reader, err := o.files.Open(stageCtx, doc.FileRef)
	if err != nil {
		return stageFail(stageExtract, "open file: %w", err)
	}
	defer reader.Close()

	started := time.Now()
	blocks, err := o.extractor.Extract(stageCtx, reader, doc.MIME)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", domain.ErrExtractionTimeout, err)
		}
		return stageFail(stageExtract, "%w", err)
	}
	logger.Debug("Extracted %d blocks from doc %s in %s", len(blocks), doc.ID, time.Since(started))

	chunks, err := o.chunker.Chunk(doc, blocks)
	if err != nil {
		return stageFail(stageChunk, "%w", err)
	}

	if err := o.docs.SaveChunks(ctx, chunks); err != nil {
		return stageFail(stageChunk, "save chunks: %w", err)
	}
	if err := o.transition(ctx, doc, domain.StateChunking); err != nil {
		return err
	}
	o.emit("document.chunked", doc, map[string]any{"chunks": len(chunks), "blocks": len(blocks)})
	return nil
}

// embedAndIndex embeds persisted chunks and writes vector and lexical
// index entries. Chunk IDs are deterministic and both index writes are
// idempotent, so re-running after a crash is safe.
func (o *IngestOrchestrator) embedAndIndex(ctx context.Context, doc *domain.Document) error {
	if doc.State == domain.StateChunking {
		if err := o.transition(ctx, doc, domain.StateEmbedding); err != nil {
			return err
		}
	}

	chunks, err := o.docs.GetChunks(ctx, doc.ID)
	if err != nil {
		return stageFail(stageEmbed, "load chunks: %w", err)
	}

	if len(chunks) > 0 {
		stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := o.embedder.EmbedBatch(stageCtx, texts)
		cancel()
		if err != nil {
			return stageFail(stageEmbed, "%w", err)
		}

		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
		if err := o.docs.SaveChunks(ctx, chunks); err != nil {
			return stageFail(stageEmbed, "save embeddings: %w", err)
		}

		meta := driven.EntryMeta{
			DocumentID: doc.ID,
			MIME:       doc.MIME,
			Tags:       doc.Tags,
			CreatedAt:  doc.CreatedAt.Unix(),
		}
		for i, ch := range chunks {
			meta.Page = ch.Page
			if err := o.vectors.Upsert(ctx, doc.TenantID, ch.ID, vectors[i], meta); err != nil {
				return stageFail(stageIndex, "upsert vector: %w", err)
			}
			if err := o.lexical.Index(ctx, chunks[i]); err != nil {
				return stageFail(stageIndex, "index chunk: %w", err)
			}
		}
	}

	if err := o.transition(ctx, doc, domain.StateIndexed); err != nil {
		return err
	}
	o.emit("document.indexed", doc, map[string]any{"chunks": len(chunks)})
	return nil
}

// transition moves the document to the next state, enforced by the store.
func (o *IngestOrchestrator) transition(ctx context.Context, doc *domain.Document, to domain.DocumentState) error {
	if err := o.docs.UpdateState(ctx, doc.ID, to); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", doc.State, to, err)
	}
	o.emit("document.stage", doc, map[string]any{"from": string(doc.State), "to": string(to)})
	doc.State = to
	doc.Progress = domain.StateProgress(to)
	return nil
}

func (o *IngestOrchestrator) getTenantDocument(ctx context.Context, tenantID, documentID string) (*domain.Document, error) {
	doc, err := o.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		// Cross-tenant access is indistinguishable from absence.
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (o *IngestOrchestrator) hashFile(ctx context.Context, fileRef string) (string, error) {
	reader, err := o.files.Open(ctx, fileRef)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return hash.Content(data), nil
}

// lockDocument serialises processing of one document in this process.
func (o *IngestOrchestrator) lockDocument(documentID string) func() {
	o.mu.Lock()
	l, ok := o.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[documentID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (o *IngestOrchestrator) backoff(attempt int) time.Duration {
	d := o.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (o *IngestOrchestrator) emit(event string, doc *domain.Document, extra map[string]any) {
	if o.events == nil {
		return
	}
	fields := map[string]any{
		"document_id": doc.ID,
		"tenant_id":   doc.TenantID,
		"state":       string(doc.State),
	}
	for k, v := range extra {
		fields[k] = v
	}
	o.events.Emit(event, fields)
}

// classify maps a pipeline error to its stage name and retryability. The
// stage comes from the stageError wrap when present; errors raised
// outside a stage (document loads, state resets) count against indexing.
func classify(err error) (stage string, retryable bool) {
	stage = stageIndex
	var se *stageError
	if errors.As(err, &se) {
		stage = se.stage
	}
	switch {
	case errors.Is(err, domain.ErrDimensionMismatch),
		errors.Is(err, domain.ErrCorruptedInput),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrInvalidChunkConfig),
		errors.Is(err, domain.ErrConsistency):
		return stage, false
	case errors.Is(err, context.DeadlineExceeded):
		return stage, true
	}
	return stage, domain.Retryable(err)
}

// stateBeforeChunks reports whether a failure stage predates durable
// chunk persistence, requiring re-extraction on retry.
func stateBeforeChunks(stage string) bool {
	return stage == stageExtract || stage == stageChunk || stage == ""
}
