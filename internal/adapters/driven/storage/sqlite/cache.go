package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// embeddingCache implements driven.EmbeddingCache on a SQLite table. The
// cache is shared across tenants because identical text under one model
// embeds identically; keys already include the model identifier.
type embeddingCache struct {
	store *Store
}

var _ driven.EmbeddingCache = (*embeddingCache)(nil)

// GetBatch returns the cached vector per key, nil for misses.
func (c *embeddingCache) GetBatch(ctx context.Context, keys []string) ([][]float32, error) {
	result := make([][]float32, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(keys)-1) + "?"
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := c.store.db.QueryContext(ctx,
		"SELECT cache_key, vector FROM embedding_cache WHERE cache_key IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	byKey := make(map[string][]float32, len(keys))
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		byKey[key] = bytesToFloat32Slice(blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache entries: %w", err)
	}

	for i, key := range keys {
		result[i] = byKey[key]
	}
	return result, nil
}

// PutBatch stores vectors under their keys.
func (c *embeddingCache) PutBatch(ctx context.Context, keys []string, vectors [][]float32) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_cache (cache_key, vector, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing cache insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, key := range keys {
		if i >= len(vectors) || vectors[i] == nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, key, float32SliceToBytes(vectors[i]), now); err != nil {
			return fmt.Errorf("caching key %s: %w", key, err)
		}
	}
	return tx.Commit()
}
