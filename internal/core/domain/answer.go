package domain

import "time"

// Citation links a span of an answer back to the chunk supporting it.
type Citation struct {
	// ChunkID references the supporting chunk.
	ChunkID string

	// DocumentID is the chunk's owning document.
	DocumentID string

	// Page is the source page of the cited chunk.
	Page int

	// Score is the relevance of the citation to the claim it supports.
	Score float64
}

// Answer is the generated response to one query turn.
// Immutable once returned to the caller.
type Answer struct {
	// ID is the unique identifier for the answer.
	ID string

	// SessionID is the conversation the answer belongs to, if any.
	SessionID string

	// Text is the generated answer text.
	Text string

	// Citations lists the chunks supporting the answer, ordered by score.
	Citations []Citation

	// Groundedness is the fraction of answer sentences with a supporting
	// citation above the similarity threshold.
	Groundedness float64

	// Grounded flags answers whose groundedness clears the configured
	// threshold. Ungrounded answers indicate possible hallucination.
	Grounded bool

	// InsufficientEvidence marks an explicit "no relevant information"
	// response. Such answers carry no citations and are not errors.
	InsufficientEvidence bool

	// Model is the generation model that produced the text.
	Model string

	// CostEstimate is an approximate spend for the turn, in USD.
	CostEstimate float64

	CreatedAt time.Time
}
