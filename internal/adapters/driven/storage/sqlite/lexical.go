package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// lexicalIndex implements driven.LexicalIndex over an FTS5 table.
type lexicalIndex struct {
	store *Store
}

var _ driven.LexicalIndex = (*lexicalIndex)(nil)

// Index adds or updates a chunk in the full-text index.
func (l *lexicalIndex) Index(ctx context.Context, chunk domain.Chunk) error {
	tx, err := l.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// FTS5 has no upsert; delete-then-insert keeps the operation
	// idempotent on chunk ID.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE chunk_id = ?", chunk.ID); err != nil {
		return fmt.Errorf("clearing fts entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chunks_fts (text, chunk_id, tenant_id, document_id)
		VALUES (?, ?, ?, ?)
	`, chunk.Text, chunk.ID, chunk.TenantID, chunk.DocumentID); err != nil {
		return fmt.Errorf("indexing chunk %s: %w", chunk.ID, err)
	}
	return tx.Commit()
}

// DeleteDocument removes all of a document's chunks from the index.
func (l *lexicalIndex) DeleteDocument(ctx context.Context, tenantID, documentID string) error {
	_, err := l.store.db.ExecContext(ctx,
		"DELETE FROM chunks_fts WHERE tenant_id = ? AND document_id = ?",
		tenantID, documentID)
	if err != nil {
		return fmt.Errorf("deleting fts entries: %w", err)
	}
	return nil
}

// Search performs a BM25-ranked keyword query within one tenant's corpus.
func (l *lexicalIndex) Search(ctx context.Context, tenantID, query string, limit int) ([]driven.LexicalHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	// bm25() returns lower-is-better; negate so callers see higher-is-
	// better scores.
	rows, err := l.store.db.QueryContext(ctx, `
		SELECT chunk_id, -bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ? AND tenant_id = ?
		ORDER BY score DESC
		LIMIT ?
	`, match, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var hits []driven.LexicalHit //nolint:prealloc // size unknown from query
	for rows.Next() {
		var hit driven.LexicalHit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms, so
// user punctuation can never break the match syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
