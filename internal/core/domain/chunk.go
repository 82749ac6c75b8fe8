package domain

import "fmt"

// Chunk is a bounded, overlapping slice of a document's extracted text.
// It is the atomic unit of retrieval.
type Chunk struct {
	// ID is derived deterministically from the document ID and ordinal,
	// so re-running the chunking stage is idempotent.
	ID string

	// DocumentID links to the owning Document.
	DocumentID string

	// TenantID mirrors the document's tenant for index filtering.
	TenantID string

	// Text is the chunk content, including leading overlap.
	Text string

	// Ordinal is the position of the chunk within the document.
	Ordinal int

	// StartOffset and EndOffset locate the chunk within the extracted
	// text. Offsets of consecutive chunks overlap by the configured
	// overlap length.
	StartOffset int
	EndOffset   int

	// Page is the 1-based source page the chunk starts on.
	Page int

	// PrevOverlap is the number of leading characters shared with the
	// preceding chunk. Zero for the first chunk.
	PrevOverlap int

	// Confidence is the minimum extraction confidence of the blocks the
	// chunk was built from.
	Confidence float64

	// Embedding is the chunk's vector once the embedding stage has run.
	// Persisted so the vector index can be rebuilt on startup.
	Embedding []float32
}

// ChunkID builds the deterministic chunk identifier for a document ordinal.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%04d", documentID, ordinal)
}

// ChunkConfig controls how extracted text is windowed into chunks.
type ChunkConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int

	// Overlap is how many characters consecutive chunks share.
	Overlap int

	// MinChunkSize suppresses trailing fragments shorter than this,
	// folding them into the previous chunk.
	MinChunkSize int

	// SentenceTolerance is how far back from a window boundary the
	// chunker may look for a sentence end. Zero disables the heuristic.
	SentenceTolerance int
}

// Validate checks the configuration invariants.
func (c ChunkConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidChunkConfig)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap %d must be in [0, chunk size %d)", ErrInvalidChunkConfig, c.Overlap, c.ChunkSize)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("%w: min chunk size %d must be in [0, chunk size %d]", ErrInvalidChunkConfig, c.MinChunkSize, c.ChunkSize)
	}
	return nil
}

// DefaultChunkConfig matches the ingestion defaults.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:         1000,
		Overlap:           200,
		MinChunkSize:      50,
		SentenceTolerance: 120,
	}
}
