package driven

import (
	"context"
	"time"
)

// IngestJob is one unit of ingestion work: drive a single document through
// the pipeline. Jobs are durable so a crashed worker can be replaced.
type IngestJob struct {
	// ID is the queue entry identifier.
	ID string

	// DocumentID is the document to process.
	DocumentID string

	// TenantID scopes the job.
	TenantID string

	// Attempt counts deliveries of this job, starting at 1.
	Attempt int

	// NotBefore delays redelivery for backoff.
	NotBefore time.Time
}

// JobQueue is a durable work queue with at-least-once delivery. Stage
// execution is idempotent, so redelivery after a crash is safe.
type JobQueue interface {
	// Enqueue adds a job for a document. Enqueueing an already-pending
	// document is a no-op.
	Enqueue(ctx context.Context, tenantID, documentID string) error

	// Dequeue claims the next due job, or returns domain.ErrNotFound
	// when none is due. A claimed job is invisible to other workers
	// until acked, nacked, or its visibility lease lapses.
	Dequeue(ctx context.Context, workerID string) (*IngestJob, error)

	// Ack removes a completed job.
	Ack(ctx context.Context, jobID string) error

	// Nack returns a failed job to the queue for redelivery after the
	// given delay, incrementing its attempt count.
	Nack(ctx context.Context, jobID string, delay time.Duration) error

	// Pending reports how many jobs are queued or in flight.
	Pending(ctx context.Context) (int, error)
}
