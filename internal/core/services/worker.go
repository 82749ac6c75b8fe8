package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

// WorkerPool runs ingestion workers that pull jobs from the durable
// queue. Each worker processes one document at a time; documents are
// processed in parallel across workers, but a single document's stages
// run sequentially under the orchestrator.
type WorkerPool struct {
	queue        driven.JobQueue
	orchestrator *IngestOrchestrator
	workers      int
	pollInterval time.Duration
}

// NewWorkerPool creates a pool of n workers.
func NewWorkerPool(queue driven.JobQueue, orchestrator *IngestOrchestrator, workers int, pollInterval time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 2
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &WorkerPool{
		queue:        queue,
		orchestrator: orchestrator,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

// Run blocks, processing jobs until the context is cancelled.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8])
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *WorkerPool) runWorker(ctx context.Context, workerID string) error {
	logger.Debug("Worker %s started", workerID)
	for {
		job, err := p.queue.Dequeue(ctx, workerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Queue empty; poll again shortly.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.pollInterval):
			}
			continue
		case err != nil:
			return fmt.Errorf("dequeue: %w", err)
		}

		logger.Debug("Worker %s processing doc %s (attempt %d)", workerID, job.DocumentID, job.Attempt)
		if err := p.orchestrator.HandleJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			logger.Warn("Worker %s: job %s infrastructure error: %v", workerID, job.ID, err)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
