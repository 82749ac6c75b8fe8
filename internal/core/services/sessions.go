package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

// SessionConfig tunes conversation session lifecycle.
type SessionConfig struct {
	// InactivityWindow is how long a session survives without a turn.
	InactivityWindow time.Duration

	// LeaseTTL bounds how long one in-flight query may hold a session.
	LeaseTTL time.Duration

	// SweepInterval is how often expired sessions are evicted.
	SweepInterval time.Duration
}

// DefaultSessionConfig returns the session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InactivityWindow: 30 * time.Minute,
		LeaseTTL:         2 * time.Minute,
		SweepInterval:    5 * time.Minute,
	}
}

// SessionManager owns conversation session lifecycle: creation on first
// turn, per-session serialization via store-backed leases, turn recording
// and inactivity eviction.
type SessionManager struct {
	store  driven.SessionStore
	events driven.EventSink
	cfg    SessionConfig
}

// NewSessionManager creates the manager.
func NewSessionManager(store driven.SessionStore, events driven.EventSink, cfg SessionConfig) *SessionManager {
	def := DefaultSessionConfig()
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = def.InactivityWindow
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = def.LeaseTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &SessionManager{store: store, events: events, cfg: cfg}
}

// Begin resolves or creates the session for a turn and claims its lease.
// Returns the session, a release function that must be called when the
// turn completes, and domain.ErrSessionBusy when another turn is in
// flight. An expired session ID starts a fresh session rather than
// failing.
func (m *SessionManager) Begin(ctx context.Context, tenantID, userID, sessionID string) (*domain.ConversationSession, func(), error) {
	session, err := m.resolve(ctx, tenantID, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}

	holder := uuid.NewString()
	if err := m.store.AcquireLease(ctx, session.ID, holder, m.cfg.LeaseTTL); err != nil {
		return nil, nil, fmt.Errorf("acquire session lease: %w", err)
	}
	release := func() {
		if err := m.store.ReleaseLease(context.Background(), session.ID, holder); err != nil {
			logger.Warn("Failed to release lease on session %s: %v", session.ID, err)
		}
	}
	return session, release, nil
}

func (m *SessionManager) resolve(ctx context.Context, tenantID, userID, sessionID string) (*domain.ConversationSession, error) {
	if sessionID != "" {
		session, err := m.store.Get(ctx, sessionID)
		switch {
		case err == nil:
			if session.TenantID != tenantID {
				return nil, domain.ErrNotFound
			}
			if !session.Expired(m.cfg.InactivityWindow, time.Now().UTC()) {
				return session, nil
			}
			// Expired session: fall through to a fresh one.
		case errors.Is(err, domain.ErrNotFound):
			// Unknown ID: start fresh.
		default:
			return nil, fmt.Errorf("get session %s: %w", sessionID, err)
		}
	}

	now := time.Now().UTC()
	session := &domain.ConversationSession{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		UserID:     userID,
		LastActive: now,
		CreatedAt:  now,
	}
	if err := m.store.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if m.events != nil {
		m.events.Emit("session.created", map[string]any{
			"session_id": session.ID,
			"tenant_id":  tenantID,
		})
	}
	return session, nil
}

// RecordTurn appends a completed query/answer pair to the session.
func (m *SessionManager) RecordTurn(ctx context.Context, sessionID string, query string, answer *domain.Answer) error {
	cited := make([]string, len(answer.Citations))
	for i, c := range answer.Citations {
		cited[i] = c.ChunkID
	}
	turn := domain.Turn{
		Query:         query,
		AnswerID:      answer.ID,
		AnswerText:    answer.Text,
		CitedChunkIDs: cited,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.AppendTurn(ctx, sessionID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Sweep evicts sessions inactive past the configured window.
func (m *SessionManager) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-m.cfg.InactivityWindow)
	removed, err := m.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	if removed > 0 {
		logger.Debug("Evicted %d expired sessions", removed)
		if m.events != nil {
			m.events.Emit("session.swept", map[string]any{"removed": removed})
		}
	}
	return nil
}

// RunSweeper evicts expired sessions on an interval until ctx ends.
func (m *SessionManager) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Warn("Session sweep failed: %v", err)
			}
		}
	}
}
