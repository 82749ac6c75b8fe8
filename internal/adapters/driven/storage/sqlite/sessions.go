package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// sessionStore implements driven.SessionStore. The lease columns make the
// per-session serialisation hold across processes sharing the database.
type sessionStore struct {
	store *Store
}

var _ driven.SessionStore = (*sessionStore)(nil)

// Save stores or updates a session.
func (s *sessionStore) Save(ctx context.Context, session *domain.ConversationSession) error {
	turnsJSON, err := json.Marshal(session.Turns)
	if err != nil {
		return fmt.Errorf("marshalling turns: %w", err)
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.LastActive.IsZero() {
		session.LastActive = session.CreatedAt
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, turns, lease_holder,
			lease_expiry, last_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			turns = excluded.turns,
			last_active = excluded.last_active
	`, session.ID, session.TenantID, session.UserID, string(turnsJSON),
		session.LeaseHolder, nullTime(session.LeaseExpiry), session.LastActive, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *sessionStore) Get(ctx context.Context, id string) (*domain.ConversationSession, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, turns, lease_holder, lease_expiry,
			last_active, created_at
		FROM sessions WHERE id = ?
	`, id)

	var session domain.ConversationSession
	var turnsJSON string
	var leaseExpiry, lastActive, createdAt sql.NullTime
	if err := row.Scan(&session.ID, &session.TenantID, &session.UserID, &turnsJSON,
		&session.LeaseHolder, &leaseExpiry, &lastActive, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal([]byte(turnsJSON), &session.Turns); err != nil {
		return nil, fmt.Errorf("unmarshaling turns: %w", err)
	}
	if leaseExpiry.Valid {
		session.LeaseExpiry = leaseExpiry.Time
	}
	if lastActive.Valid {
		session.LastActive = lastActive.Time
	}
	if createdAt.Valid {
		session.CreatedAt = createdAt.Time
	}
	return &session, nil
}

// AppendTurn records a completed turn and refreshes LastActive.
func (s *sessionStore) AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var turnsJSON string
	row := tx.QueryRowContext(ctx, "SELECT turns FROM sessions WHERE id = ?", sessionID)
	if err := row.Scan(&turnsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("reading turns: %w", err)
	}

	var turns []domain.Turn
	if err := json.Unmarshal([]byte(turnsJSON), &turns); err != nil {
		return fmt.Errorf("unmarshaling turns: %w", err)
	}
	turns = append(turns, turn)
	updated, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshalling turns: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET turns = ?, last_active = ? WHERE id = ?",
		string(updated), time.Now().UTC(), sessionID); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return tx.Commit()
}

// AcquireLease claims the session for one in-flight query. The claim is a
// conditional update so concurrent turns race on the database, not on
// process-local state.
func (s *sessionStore) AcquireLease(ctx context.Context, sessionID, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE sessions SET lease_holder = ?, lease_expiry = ?
		WHERE id = ? AND (lease_holder = '' OR lease_holder = ? OR lease_expiry < ?)
	`, holder, now.Add(ttl), sessionID, holder, now)
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("acquiring lease: %w", err)
	}
	if rows == 0 {
		// Distinguish a missing session from a held one.
		var exists int
		row := s.store.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sessions WHERE id = ?", sessionID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("checking session: %w", err)
		}
		if exists == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrSessionBusy
	}
	return nil
}

// ReleaseLease releases the session if held by the given holder.
func (s *sessionStore) ReleaseLease(ctx context.Context, sessionID, holder string) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE sessions SET lease_holder = '', lease_expiry = NULL
		WHERE id = ? AND lease_holder = ?
	`, sessionID, holder)
	if err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}

// DeleteExpired evicts sessions inactive since the cutoff.
func (s *sessionStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE last_active < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return int(rows), nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
