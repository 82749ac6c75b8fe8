package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
	"github.com/archon-labs/docbrain/internal/logger"
)

// QueryService answers questions against a tenant's corpus. It serializes
// turns per session, retrieves candidate chunks and composes a cited
// answer.
type QueryService struct {
	sessions  *SessionManager
	retriever *Retriever
	composer  *AnswerComposer
}

var _ driving.Querier = (*QueryService)(nil)

// NewQueryService creates the query service.
func NewQueryService(sessions *SessionManager, retriever *Retriever, composer *AnswerComposer) *QueryService {
	return &QueryService{sessions: sessions, retriever: retriever, composer: composer}
}

// Query implements driving.Querier.
func (s *QueryService) Query(ctx context.Context, req driving.QueryRequest) (*domain.Answer, error) {
	return s.query(ctx, req, nil)
}

// QueryStream implements driving.Querier.
func (s *QueryService) QueryStream(ctx context.Context, req driving.QueryRequest, onToken func(token string)) (*domain.Answer, error) {
	return s.query(ctx, req, onToken)
}

func (s *QueryService) query(ctx context.Context, req driving.QueryRequest, onToken func(token string)) (*domain.Answer, error) {
	if err := validateQuery(req); err != nil {
		return nil, err
	}

	session, release, err := s.sessions.Begin(ctx, req.TenantID, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger.Debug("Query on session %s: %q", session.ID, req.Text)

	candidates, err := s.retriever.Retrieve(ctx, req.TenantID, req.Text, req.Filter, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	answer, err := s.composer.compose(ctx, session, req.Text, candidates, onToken)
	if err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	answer.SessionID = session.ID

	if err := s.sessions.RecordTurn(ctx, session.ID, req.Text, answer); err != nil {
		// The answer is already produced; a history write failure should
		// not discard it.
		logger.Warn("Failed to record turn on session %s: %v", session.ID, err)
	}
	return answer, nil
}

func validateQuery(req driving.QueryRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Text) == "" {
		return fmt.Errorf("%w: query text is empty", domain.ErrInvalidInput)
	}
	return nil
}
