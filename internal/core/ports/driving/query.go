package driving

import (
	"context"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// QueryRequest is one natural-language question against a tenant's corpus.
type QueryRequest struct {
	TenantID string
	UserID   string

	// SessionID continues an existing conversation. Empty starts a new
	// session on the first turn.
	SessionID string

	// Text is the question.
	Text string

	// Filter optionally restricts retrieval to a metadata subset.
	Filter domain.Filter

	// TopK overrides the configured retrieval depth when positive.
	TopK int
}

// Querier answers questions grounded in the tenant's indexed documents.
type Querier interface {
	// Query retrieves, composes and returns a cited answer. An empty
	// corpus yields an insufficient-information answer, not an error.
	Query(ctx context.Context, req QueryRequest) (*domain.Answer, error)

	// QueryStream behaves like Query but forwards answer tokens to
	// onToken as they arrive. Citations are attached to the returned
	// answer only once generation completes.
	QueryStream(ctx context.Context, req QueryRequest, onToken func(token string)) (*domain.Answer, error)
}
