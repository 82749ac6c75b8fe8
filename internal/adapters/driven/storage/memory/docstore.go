package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure DocumentStore implements the interface.
var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	chunks    map[string]map[string]domain.Chunk // documentID -> chunkID -> chunk
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]domain.Document),
		chunks:    make(map[string]map[string]domain.Chunk),
	}
}

// SaveDocument stores or updates a document.
func (s *DocumentStore) SaveDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.UpdatedAt = time.Now().UTC()
	s.documents[doc.ID] = *doc
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &doc, nil
}

// UpdateState transitions a document's lifecycle state, enforcing the
// legal transition set.
func (s *DocumentStore) UpdateState(_ context.Context, id string, state domain.DocumentState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !domain.CanTransition(doc.State, state) {
		return fmt.Errorf("%w: cannot transition document %s from %s to %s", domain.ErrInvalidInput, id, doc.State, state)
	}
	doc.State = state
	doc.Progress = domain.StateProgress(state)
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

// RecordFailure marks a document failed.
func (s *DocumentStore) RecordFailure(_ context.Context, id, stage, message string, retryable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.State = domain.StateFailed
	doc.FailedStage = stage
	doc.LastError = message
	doc.Retryable = retryable
	doc.ErrorCount++
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	return nil
}

// FindByContentHash returns a tenant's indexed original with the given
// content hash.
func (s *DocumentStore) FindByContentHash(_ context.Context, tenantID, hash string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range s.documents {
		doc := s.documents[id]
		if doc.TenantID == tenantID && doc.ContentHash == hash &&
			doc.State == domain.StateIndexed && doc.AliasOf == "" {
			return &doc, nil
		}
	}
	return nil, domain.ErrNotFound
}

// SaveChunks stores chunks, idempotent on chunk ID.
func (s *DocumentStore) SaveChunks(_ context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chunk := range chunks {
		byID, ok := s.chunks[chunk.DocumentID]
		if !ok {
			byID = make(map[string]domain.Chunk)
			s.chunks[chunk.DocumentID] = byID
		}
		byID[chunk.ID] = chunk
	}
	return nil
}

// GetChunk retrieves a chunk by ID.
func (s *DocumentStore) GetChunk(_ context.Context, id string) (*domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, byID := range s.chunks {
		if chunk, ok := byID[id]; ok {
			return &chunk, nil
		}
	}
	return nil, domain.ErrNotFound
}

// GetChunks retrieves a document's chunks ordered by ordinal.
func (s *DocumentStore) GetChunks(_ context.Context, documentID string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.chunks[documentID]
	if !ok {
		return nil, nil
	}
	result := make([]domain.Chunk, 0, len(byID))
	for _, chunk := range byID {
		result = append(result, chunk)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Ordinal < result[j].Ordinal })
	return result, nil
}

// CountChunks reports how many chunks a document has.
func (s *DocumentStore) CountChunks(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[documentID]), nil
}

// DeleteDocument soft-deletes a document and removes its chunks.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return domain.ErrNotFound
	}
	doc.State = domain.StateDeleted
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	delete(s.chunks, id)
	return nil
}

// ListDocuments returns a tenant's non-deleted documents.
func (s *DocumentStore) ListDocuments(_ context.Context, tenantID string) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Document
	for id := range s.documents {
		doc := s.documents[id]
		if doc.TenantID == tenantID && doc.State != domain.StateDeleted {
			result = append(result, doc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
