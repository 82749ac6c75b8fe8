package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// Extraction errors.

	// ErrUnsupportedFormat indicates no extractor handles the declared MIME type.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrCorruptedInput indicates the document bytes could not be parsed.
	// Fatal: retrying extraction on the same bytes cannot succeed.
	ErrCorruptedInput = errors.New("corrupted input")

	// ErrExtractionTimeout indicates extraction exceeded its deadline.
	ErrExtractionTimeout = errors.New("extraction timeout")

	// Chunking errors.

	// ErrInvalidChunkConfig indicates an unusable chunking configuration,
	// such as overlap >= chunk size.
	ErrInvalidChunkConfig = errors.New("invalid chunk config")

	// Embedding errors.

	// ErrEmbeddingUnavailable indicates the embedding backend cannot be
	// reached. Retryable with backoff.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrDimensionMismatch indicates the backend returned vectors of an
	// unexpected dimension. Fatal: signals misconfiguration.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// Retrieval and generation errors.

	// ErrRetrieverTimeout indicates retrieval exceeded its deadline.
	ErrRetrieverTimeout = errors.New("retriever timeout")

	// ErrGenerationUnavailable indicates the generation backend cannot be
	// reached. Retryable, optionally with a fallback model.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrContextBudget indicates the composed context exceeded its budget.
	// Should not occur when budgeting is correct; treated as an internal
	// invariant violation.
	ErrContextBudget = errors.New("context budget exceeded")

	// Session errors.

	// ErrSessionBusy indicates a session already has an in-flight query.
	// Turns on one session are serialised, never interleaved.
	ErrSessionBusy = errors.New("session busy")

	// ErrSessionExpired indicates the session passed its inactivity window.
	ErrSessionExpired = errors.New("session expired")

	// Consistency errors are internal invariant violations; the affected
	// document is marked failed rather than silently ignored.

	// ErrConsistency indicates stored state contradicts an invariant,
	// e.g. a chunk referencing a missing document.
	ErrConsistency = errors.New("consistency violation")
)

// Retryable reports whether an error is a transient service failure worth
// retrying with backoff. Input and consistency errors are never retryable.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrEmbeddingUnavailable),
		errors.Is(err, ErrGenerationUnavailable),
		errors.Is(err, ErrRetrieverTimeout),
		errors.Is(err, ErrExtractionTimeout):
		return true
	}
	return false
}
