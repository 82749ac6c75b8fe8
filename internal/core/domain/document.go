package domain

import "time"

// DocumentState is the lifecycle state of a document as it moves
// through the ingestion pipeline.
type DocumentState string

// Document lifecycle states. A document advances strictly forward through
// the ingestion states; failed is reachable from any processing state and
// deleted is terminal.
const (
	StateReceived   DocumentState = "received"
	StateExtracting DocumentState = "extracting"
	StateChunking   DocumentState = "chunking"
	StateEmbedding  DocumentState = "embedding"
	StateIndexed    DocumentState = "indexed"
	StateFailed     DocumentState = "failed"
	StateDeleted    DocumentState = "deleted"
)

// stateOrder defines the forward progression through ingestion.
var stateOrder = map[DocumentState]int{
	StateReceived:   0,
	StateExtracting: 1,
	StateChunking:   2,
	StateEmbedding:  3,
	StateIndexed:    4,
}

// CanTransition reports whether a document may move from one state to
// another. Forward single-step moves, failure from any processing state,
// and deletion of any non-deleted document are permitted.
func CanTransition(from, to DocumentState) bool {
	if from == StateDeleted {
		return false
	}
	if to == StateDeleted {
		return true
	}
	if to == StateFailed {
		return from != StateFailed && from != StateDeleted
	}
	fo, fromOK := stateOrder[from]
	to2, toOK := stateOrder[to]
	if !fromOK || !toOK {
		return false
	}
	return to2 == fo+1
}

// Terminal reports whether no further ingestion work applies to the state.
func (s DocumentState) Terminal() bool {
	return s == StateIndexed || s == StateFailed || s == StateDeleted
}

// StateProgress maps a state to a coarse 0-100 progress value used for
// status polling.
func StateProgress(s DocumentState) int {
	switch s {
	case StateReceived:
		return 5
	case StateExtracting:
		return 35
	case StateChunking:
		return 60
	case StateEmbedding:
		return 85
	case StateIndexed:
		return 100
	default:
		return 0
	}
}

// Document represents an uploaded file tracked through ingestion.
// Once indexed it is immutable apart from soft deletion.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// TenantID is the isolation boundary that owns this document.
	// No other tenant may see its chunks or index entries.
	TenantID string

	// UserID is the uploading user within the tenant.
	UserID string

	// Name is the declared filename.
	Name string

	// FileRef is the stored-file handle supplied by the upload intake.
	FileRef string

	// MIME is the declared content type.
	MIME string

	// ContentHash is the hash of the raw bytes, used for duplicate
	// detection within a tenant.
	ContentHash string

	// State is the current lifecycle state.
	State DocumentState

	// FailedStage names the pipeline stage that failed, when State is failed.
	FailedStage string

	// Retryable indicates whether the recorded failure may be retried.
	Retryable bool

	// LastError holds the most recent failure message.
	LastError string

	// ErrorCount is the number of failed processing attempts.
	ErrorCount int

	// Progress is a coarse 0-100 indicator for status polling.
	Progress int

	// AliasOf links a duplicate upload to the document whose chunks it
	// shares. Empty for originals.
	AliasOf string

	// Tags are caller-supplied labels carried into index entry metadata.
	Tags []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TextBlock is one positioned piece of extracted text. Blocks are
// ephemeral: they feed the chunker and are never persisted.
type TextBlock struct {
	// Page is the 1-based source page number.
	Page int

	// Ordinal is the position of the block within the document.
	Ordinal int

	// Text is the raw extracted text.
	Text string

	// Confidence is 1.0 for native text and lower for OCR output.
	// Retrieval may discount chunks built from low-confidence blocks.
	Confidence float64
}
