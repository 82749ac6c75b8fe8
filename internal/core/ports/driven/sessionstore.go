package driven

import (
	"context"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// SessionStore persists conversation sessions and implements the
// per-session lease used to serialise turns across worker processes.
type SessionStore interface {
	// Save stores or updates a session.
	Save(ctx context.Context, session *domain.ConversationSession) error

	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*domain.ConversationSession, error)

	// AppendTurn records a completed turn and refreshes LastActive.
	AppendTurn(ctx context.Context, sessionID string, turn domain.Turn) error

	// AcquireLease claims the session for one in-flight query. Returns
	// domain.ErrSessionBusy if another holder owns an unexpired lease.
	AcquireLease(ctx context.Context, sessionID, holder string, ttl time.Duration) error

	// ReleaseLease releases the session if held by the given holder.
	ReleaseLease(ctx context.Context, sessionID, holder string) error

	// DeleteExpired evicts sessions inactive since the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}
