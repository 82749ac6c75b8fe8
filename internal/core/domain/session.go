package domain

import "time"

// Turn is one completed (query, answer) exchange in a conversation.
type Turn struct {
	// Query is the user's question.
	Query string

	// AnswerID references the Answer produced for the turn.
	AnswerID string

	// AnswerText is kept inline so history can be replayed without an
	// answer lookup.
	AnswerText string

	// CitedChunkIDs are the chunks the answer cited, by ID only.
	CitedChunkIDs []string

	CreatedAt time.Time
}

// ConversationSession holds per-conversation state consumed by the answer
// composer across turns.
type ConversationSession struct {
	// ID is the unique session identifier.
	ID string

	// TenantID and UserID scope the session.
	TenantID string
	UserID   string

	// Turns is the ordered conversation history.
	Turns []Turn

	// LeaseHolder and LeaseExpiry implement per-session serialisation.
	// A session processes at most one in-flight query; the lease is a
	// store-backed token so it holds across worker processes.
	LeaseHolder string
	LeaseExpiry time.Time

	// LastActive drives inactivity expiry.
	LastActive time.Time

	CreatedAt time.Time
}

// Expired reports whether the session passed its inactivity window.
func (s *ConversationSession) Expired(window time.Duration, now time.Time) bool {
	return now.Sub(s.LastActive) > window
}

// History returns the most recent n turns in chronological order.
func (s *ConversationSession) History(n int) []Turn {
	if n <= 0 || len(s.Turns) <= n {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}
