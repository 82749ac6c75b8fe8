package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure LexicalIndex implements the interface.
var _ driven.LexicalIndex = (*LexicalIndex)(nil)

type lexicalEntry struct {
	documentID string
	tokens     map[string]int
}

// LexicalIndex is an in-memory keyword index used by tests in place of
// the FTS5-backed adapter. Scoring is term-frequency overlap, not BM25,
// which preserves relative ordering for the small corpora tests use.
type LexicalIndex struct {
	mu      sync.RWMutex
	entries map[string]map[string]lexicalEntry // tenantID -> chunkID -> entry
}

// NewLexicalIndex creates a new in-memory lexical index.
func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{entries: make(map[string]map[string]lexicalEntry)}
}

// Index adds or updates a chunk in the index.
func (l *LexicalIndex) Index(_ context.Context, chunk domain.Chunk) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tenant, ok := l.entries[chunk.TenantID]
	if !ok {
		tenant = make(map[string]lexicalEntry)
		l.entries[chunk.TenantID] = tenant
	}
	tenant[chunk.ID] = lexicalEntry{
		documentID: chunk.DocumentID,
		tokens:     lexTokenise(chunk.Text),
	}
	return nil
}

// DeleteDocument removes all of a document's chunks from the index.
func (l *LexicalIndex) DeleteDocument(_ context.Context, tenantID, documentID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for chunkID, entry := range l.entries[tenantID] {
		if entry.documentID == documentID {
			delete(l.entries[tenantID], chunkID)
		}
	}
	return nil
}

// Search performs a keyword query within one tenant's corpus.
func (l *LexicalIndex) Search(_ context.Context, tenantID, query string, limit int) ([]driven.LexicalHit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	queryTokens := lexTokenise(query)
	var hits []driven.LexicalHit
	for chunkID, entry := range l.entries[tenantID] {
		score := 0.0
		for tok := range queryTokens {
			score += float64(entry.tokens[tok])
		}
		if score > 0 {
			hits = append(hits, driven.LexicalHit{ChunkID: chunkID, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func lexTokenise(text string) map[string]int {
	tokens := make(map[string]int)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		tokens[tok]++
	}
	return tokens
}
