package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
)

// setupTestServices swaps the wired services for mocks and returns a
// cleanup that restores them.
func setupTestServices() func() {
	oldIngest := ingestService
	oldQuery := queryService
	ingestService = &mockIngestor{}
	queryService = &mockQuerier{}
	return func() {
		ingestService = oldIngest
		queryService = oldQuery
	}
}

type mockIngestor struct {
	failStatus bool
}

func (m *mockIngestor) Ingest(_ context.Context, req driving.IngestRequest) (string, error) {
	if req.Name == "" {
		return "", domain.ErrInvalidInput
	}
	return "doc-mock-1", nil
}

func (m *mockIngestor) Status(_ context.Context, _, documentID string) (*driving.DocumentStatus, error) {
	if m.failStatus {
		return nil, domain.ErrNotFound
	}
	return &driving.DocumentStatus{
		DocumentID: documentID,
		State:      domain.StateIndexed,
		Progress:   100,
	}, nil
}

func (m *mockIngestor) Delete(_ context.Context, _, documentID string) error {
	if documentID == "missing" {
		return domain.ErrNotFound
	}
	return nil
}

type mockQuerier struct {
	err error
}

func (m *mockQuerier) Query(_ context.Context, req driving.QueryRequest) (*domain.Answer, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Answer{
		ID:        "ans-mock-1",
		SessionID: "sess-mock-1",
		Text:      fmt.Sprintf("Mock answer to %q.", req.Text),
		Citations: []domain.Citation{
			{ChunkID: "doc-mock-1:0000", DocumentID: "doc-mock-1", Page: 1, Score: 0.9},
		},
		Groundedness: 1.0,
		Grounded:     true,
		Model:        "mock-model",
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (m *mockQuerier) QueryStream(ctx context.Context, req driving.QueryRequest, onToken func(token string)) (*domain.Answer, error) {
	answer, err := m.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, word := range strings.SplitAfter(answer.Text, " ") {
		onToken(word)
	}
	return answer, nil
}

var errMockQuery = errors.New("backend exploded")
