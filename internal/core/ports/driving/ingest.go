package driving

import (
	"context"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// IngestRequest registers an uploaded file for processing. The caller's
// authentication layer supplies tenant and user; the core trusts them.
type IngestRequest struct {
	TenantID string
	UserID   string

	// Name is the declared filename.
	Name string

	// FileRef is the stored-file handle where the bytes live.
	FileRef string

	// MIME is the declared content type.
	MIME string

	// Tags are optional labels carried into index metadata.
	Tags []string
}

// DocumentStatus is the polling view of a document's progress.
type DocumentStatus struct {
	DocumentID string
	State      domain.DocumentState
	Progress   int

	// FailedStage and Error describe the failure when State is failed;
	// Retryable tells the caller whether resubmission can help.
	FailedStage string
	Error       string
	Retryable   bool
}

// Ingestor accepts documents into the pipeline and reports their progress.
// Ingestion is asynchronous: Ingest enqueues durable work and returns the
// document ID immediately.
type Ingestor interface {
	// Ingest registers the document and enqueues it for processing.
	Ingest(ctx context.Context, req IngestRequest) (documentID string, err error)

	// Status reports a document's pipeline progress.
	Status(ctx context.Context, tenantID, documentID string) (*DocumentStatus, error)

	// Delete removes a document and cascades to its chunks, index
	// entries and lexical entries.
	Delete(ctx context.Context, tenantID, documentID string) error
}
