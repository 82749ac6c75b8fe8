package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure SessionStore implements the interface.
var _ driven.SessionStore = (*SessionStore)(nil)

// SessionStore is an in-memory implementation of driven.SessionStore.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.ConversationSession
}

// NewSessionStore creates a new in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]domain.ConversationSession)}
}

// Save stores or updates a session.
func (s *SessionStore) Save(_ context.Context, session *domain.ConversationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(_ context.Context, id string) (*domain.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

// AppendTurn records a completed turn and refreshes LastActive.
func (s *SessionStore) AppendTurn(_ context.Context, sessionID string, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	session.Turns = append(session.Turns, turn)
	session.LastActive = time.Now().UTC()
	s.sessions[sessionID] = session
	return nil
}

// AcquireLease claims the session for one in-flight query.
func (s *SessionStore) AcquireLease(_ context.Context, sessionID, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	if session.LeaseHolder != "" && session.LeaseHolder != holder && now.Before(session.LeaseExpiry) {
		return domain.ErrSessionBusy
	}
	session.LeaseHolder = holder
	session.LeaseExpiry = now.Add(ttl)
	s.sessions[sessionID] = session
	return nil
}

// ReleaseLease releases the session if held by the given holder.
func (s *SessionStore) ReleaseLease(_ context.Context, sessionID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if session.LeaseHolder != holder {
		return nil
	}
	session.LeaseHolder = ""
	session.LeaseExpiry = time.Time{}
	s.sessions[sessionID] = session
	return nil
}

// DeleteExpired evicts sessions inactive since the cutoff.
func (s *SessionStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, session := range s.sessions {
		if session.LastActive.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
