package domain

import "time"

// CandidateOrigin names the retrieval path that produced a candidate.
type CandidateOrigin string

// Retrieval paths feeding rank fusion.
const (
	OriginVector  CandidateOrigin = "vector"
	OriginLexical CandidateOrigin = "lexical"
)

// RetrievalCandidate is a scored chunk reference produced per query.
// Ephemeral: candidates are never persisted.
type RetrievalCandidate struct {
	// ChunkID references the matched chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Text is the chunk text, hydrated for context assembly.
	Text string

	// Page is the source page of the chunk.
	Page int

	// Score is the final ranking score after fusion and reranking.
	Score float64

	// VectorScore and LexicalScore hold the per-path scores when the
	// candidate appeared in that path's result list.
	VectorScore  float64
	LexicalScore float64

	// Origins records which retrieval paths surfaced the candidate.
	Origins []CandidateOrigin
}

// FromOrigin reports whether the candidate was produced by the given path.
func (c RetrievalCandidate) FromOrigin(o CandidateOrigin) bool {
	for _, have := range c.Origins {
		if have == o {
			return true
		}
	}
	return false
}

// Filter restricts retrieval to a metadata subset of a tenant's corpus.
// Zero values mean no constraint.
type Filter struct {
	// DocumentIDs limits results to specific documents.
	DocumentIDs []string

	// MIMEs limits results to documents of the given content types.
	MIMEs []string

	// Tags requires documents carrying at least one of the given tags.
	Tags []string

	// CreatedAfter / CreatedBefore bound the document upload time.
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Empty reports whether the filter imposes no constraints.
func (f Filter) Empty() bool {
	return len(f.DocumentIDs) == 0 && len(f.MIMEs) == 0 && len(f.Tags) == 0 &&
		f.CreatedAfter.IsZero() && f.CreatedBefore.IsZero()
}
