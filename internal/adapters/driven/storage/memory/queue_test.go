package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

func TestJobQueue_EnqueueDedupes(t *testing.T) {
	q := NewJobQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "tenant-a", "doc-1"))
	require.NoError(t, q.Enqueue(ctx, "tenant-a", "doc-1"))

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestJobQueue_DequeueAckNack(t *testing.T) {
	q := NewJobQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "tenant-a", "doc-1"))

	job, err := q.Dequeue(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", job.DocumentID)
	assert.Equal(t, 1, job.Attempt)

	// A claimed job is invisible to other workers.
	_, err = q.Dequeue(ctx, "worker-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Nack with a delay keeps the job invisible until due.
	require.NoError(t, q.Nack(ctx, job.ID, 50*time.Millisecond))
	_, err = q.Dequeue(ctx, "worker-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	time.Sleep(60 * time.Millisecond)
	redelivered, err := q.Dequeue(ctx, "worker-2")
	require.NoError(t, err)
	assert.Equal(t, 2, redelivered.Attempt)

	require.NoError(t, q.Ack(ctx, redelivered.ID))
	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
