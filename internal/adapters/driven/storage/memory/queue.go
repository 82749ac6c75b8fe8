package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure JobQueue implements the interface.
var _ driven.JobQueue = (*JobQueue)(nil)

type jobState int

const (
	jobPending jobState = iota
	jobClaimed
)

type queuedJob struct {
	job     driven.IngestJob
	state   jobState
	claimed time.Time
}

// JobQueue is an in-memory implementation of driven.JobQueue. Claimed
// jobs become redeliverable after the visibility window lapses.
type JobQueue struct {
	mu         sync.Mutex
	jobs       map[string]*queuedJob
	visibility time.Duration
}

// NewJobQueue creates a new in-memory job queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs:       make(map[string]*queuedJob),
		visibility: 5 * time.Minute,
	}
}

// Enqueue adds a job for a document, a no-op when one is already pending.
func (q *JobQueue) Enqueue(_ context.Context, tenantID, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, qj := range q.jobs {
		if qj.job.DocumentID == documentID {
			return nil
		}
	}
	id := uuid.NewString()
	q.jobs[id] = &queuedJob{
		job: driven.IngestJob{
			ID:         id,
			DocumentID: documentID,
			TenantID:   tenantID,
			Attempt:    1,
		},
	}
	return nil
}

// Dequeue claims the next due job.
func (q *JobQueue) Dequeue(_ context.Context, _ string) (*driven.IngestJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for _, qj := range q.jobs {
		if qj.state == jobClaimed && now.Sub(qj.claimed) < q.visibility {
			continue
		}
		if now.Before(qj.job.NotBefore) {
			continue
		}
		qj.state = jobClaimed
		qj.claimed = now
		job := qj.job
		return &job, nil
	}
	return nil, domain.ErrNotFound
}

// Ack removes a completed job.
func (q *JobQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, jobID)
	return nil
}

// Nack returns a job to the queue for redelivery after the delay.
func (q *JobQueue) Nack(_ context.Context, jobID string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qj, ok := q.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	qj.state = jobPending
	qj.job.Attempt++
	qj.job.NotBefore = time.Now().Add(delay)
	return nil
}

// Pending reports how many jobs are queued or in flight.
func (q *JobQueue) Pending(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}
