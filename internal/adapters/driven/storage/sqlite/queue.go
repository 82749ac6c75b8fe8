package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// jobVisibility is how long a claimed job stays invisible before another
// worker may reclaim it, bounding the damage of a crashed worker.
const jobVisibility = 5 * time.Minute

// jobQueue implements driven.JobQueue on a SQLite table, giving the
// pipeline a durable at-least-once queue without a broker process.
type jobQueue struct {
	store *Store
}

var _ driven.JobQueue = (*jobQueue)(nil)

// Enqueue adds a job for a document, a no-op when one is already pending.
func (q *jobQueue) Enqueue(ctx context.Context, tenantID, documentID string) error {
	var exists int
	row := q.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ingest_jobs WHERE document_id = ?", documentID)
	if err := row.Scan(&exists); err != nil {
		return fmt.Errorf("checking pending jobs: %w", err)
	}
	if exists > 0 {
		return nil
	}

	_, err := q.store.db.ExecContext(ctx, `
		INSERT INTO ingest_jobs (id, tenant_id, document_id, attempt, created_at)
		VALUES (?, ?, ?, 1, ?)
	`, uuid.NewString(), tenantID, documentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

// Dequeue claims the next due job. The claim is a single conditional
// update, so two workers can never hold the same job inside the
// visibility window.
func (q *jobQueue) Dequeue(ctx context.Context, workerID string) (*driven.IngestJob, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-jobVisibility)

	tx, err := q.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var job driven.IngestJob
	var notBefore sql.NullTime
	row := tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, document_id, attempt, not_before
		FROM ingest_jobs
		WHERE (claimed_by = '' OR claimed_at < ?)
			AND (not_before IS NULL OR not_before <= ?)
		ORDER BY created_at
		LIMIT 1
	`, cutoff, now)
	if err := row.Scan(&job.ID, &job.TenantID, &job.DocumentID, &job.Attempt, &notBefore); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("selecting job: %w", err)
	}
	if notBefore.Valid {
		job.NotBefore = notBefore.Time
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE ingest_jobs SET claimed_by = ?, claimed_at = ?
		WHERE id = ? AND (claimed_by = '' OR claimed_at < ?)
	`, workerID, now, job.ID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	if rows == 0 {
		// Another worker won the race.
		return nil, domain.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}
	return &job, nil
}

// Ack removes a completed job.
func (q *jobQueue) Ack(ctx context.Context, jobID string) error {
	_, err := q.store.db.ExecContext(ctx, "DELETE FROM ingest_jobs WHERE id = ?", jobID)
	if err != nil {
		return fmt.Errorf("acking job: %w", err)
	}
	return nil
}

// Nack returns a failed job for redelivery after the delay.
func (q *jobQueue) Nack(ctx context.Context, jobID string, delay time.Duration) error {
	res, err := q.store.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET claimed_by = '', claimed_at = NULL, attempt = attempt + 1, not_before = ?
		WHERE id = ?
	`, time.Now().UTC().Add(delay), jobID)
	if err != nil {
		return fmt.Errorf("nacking job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err == nil && rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Pending reports how many jobs are queued or in flight.
func (q *jobQueue) Pending(ctx context.Context) (int, error) {
	var n int
	row := q.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_jobs")
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return n, nil
}
