package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, tenant_id, user_id, name, file_ref, mime, content_hash,
	state, failed_stage, retryable, last_error, error_count, progress, alias_of,
	tags, created_at, updated_at`

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("marshalling tags: %w", err)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			failed_stage = excluded.failed_stage,
			retryable = excluded.retryable,
			last_error = excluded.last_error,
			error_count = excluded.error_count,
			progress = excluded.progress,
			alias_of = excluded.alias_of,
			tags = excluded.tags,
			updated_at = excluded.updated_at
	`, doc.ID, doc.TenantID, doc.UserID, doc.Name, doc.FileRef, doc.MIME, doc.ContentHash,
		string(doc.State), doc.FailedStage, doc.Retryable, doc.LastError, doc.ErrorCount,
		doc.Progress, doc.AliasOf, string(tagsJSON), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// UpdateState transitions a document's lifecycle state. The legal moves
// are checked inside the transaction, so a crashed worker replaced by
// another can never rewind a document.
func (s *documentStore) UpdateState(ctx context.Context, id string, state domain.DocumentState) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	row := tx.QueryRowContext(ctx, "SELECT state FROM documents WHERE id = ?", id)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("reading state: %w", err)
	}
	if !domain.CanTransition(domain.DocumentState(current), state) {
		return fmt.Errorf("%w: cannot transition document %s from %s to %s",
			domain.ErrInvalidInput, id, current, state)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE documents SET state = ?, progress = ?, updated_at = ? WHERE id = ?",
		string(state), domain.StateProgress(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating state: %w", err)
	}
	return tx.Commit()
}

// RecordFailure marks a document failed.
func (s *documentStore) RecordFailure(ctx context.Context, id, stage, message string, retryable bool) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents
		SET state = ?, failed_stage = ?, last_error = ?, retryable = ?,
			error_count = error_count + 1, updated_at = ?
		WHERE id = ?
	`, string(domain.StateFailed), stage, message, retryable, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindByContentHash returns the tenant's indexed original with the hash.
func (s *documentStore) FindByContentHash(ctx context.Context, tenantID, hash string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ? AND content_hash = ? AND state = ? AND alias_of = ''
		ORDER BY created_at LIMIT 1
	`, tenantID, hash, string(domain.StateIndexed))
	return scanDocument(row)
}

// SaveChunks stores chunks in one transaction, idempotent on chunk ID.
func (s *documentStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, tenant_id, ordinal, text,
			start_offset, end_offset, page, prev_overlap, confidence, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			page = excluded.page,
			prev_overlap = excluded.prev_overlap,
			confidence = excluded.confidence,
			embedding = COALESCE(excluded.embedding, chunks.embedding)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		embeddingBlob := float32SliceToBytes(chunk.Embedding)
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.TenantID,
			chunk.Ordinal, chunk.Text, chunk.StartOffset, chunk.EndOffset, chunk.Page,
			chunk.PrevOverlap, chunk.Confidence, embeddingBlob); err != nil {
			return fmt.Errorf("saving chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// GetChunk retrieves a chunk by ID.
func (s *documentStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, document_id, tenant_id, ordinal, text, start_offset,
			end_offset, page, prev_overlap, confidence, embedding
		FROM chunks WHERE id = ?
	`, id)

	var chunk domain.Chunk
	var embedding []byte
	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.TenantID, &chunk.Ordinal,
		&chunk.Text, &chunk.StartOffset, &chunk.EndOffset, &chunk.Page,
		&chunk.PrevOverlap, &chunk.Confidence, &embedding); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	chunk.Embedding = bytesToFloat32Slice(embedding)
	return &chunk, nil
}

// GetChunks retrieves a document's chunks ordered by ordinal.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, tenant_id, ordinal, text, start_offset,
			end_offset, page, prev_overlap, confidence, embedding
		FROM chunks WHERE document_id = ? ORDER BY ordinal
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		var chunk domain.Chunk
		var embedding []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.TenantID, &chunk.Ordinal,
			&chunk.Text, &chunk.StartOffset, &chunk.EndOffset, &chunk.Page,
			&chunk.PrevOverlap, &chunk.Confidence, &embedding); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunk.Embedding = bytesToFloat32Slice(embedding)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountChunks reports how many chunks a document has.
func (s *documentStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	row := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?", documentID)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return n, nil
}

// DeleteDocument soft-deletes a document and removes its chunks.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET state = ?, updated_at = ? WHERE id = ?",
		string(domain.StateDeleted), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking document deleted: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return tx.Commit()
}

// ListDocuments returns a tenant's non-deleted documents.
func (s *documentStore) ListDocuments(ctx context.Context, tenantID string) ([]domain.Document, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ? AND state != ? ORDER BY created_at
	`, tenantID, string(domain.StateDeleted))
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var state, tagsJSON string
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&doc.ID, &doc.TenantID, &doc.UserID, &doc.Name, &doc.FileRef,
		&doc.MIME, &doc.ContentHash, &state, &doc.FailedStage, &doc.Retryable,
		&doc.LastError, &doc.ErrorCount, &doc.Progress, &doc.AliasOf,
		&tagsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	doc.State = domain.DocumentState(state)
	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshaling tags: %w", err)
	}
	if createdAt.Valid {
		doc.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		doc.UpdatedAt = updatedAt.Time
	}
	return &doc, nil
}
