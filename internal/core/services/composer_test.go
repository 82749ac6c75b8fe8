package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

func candidate(chunkID, docID, text string, score float64) domain.RetrievalCandidate {
	return domain.RetrievalCandidate{
		ChunkID:    chunkID,
		DocumentID: docID,
		Text:       text,
		Page:       1,
		Score:      score,
	}
}

func TestComposer_NoCandidatesMeansNoModelCall(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "should never be used"}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{})

	answer, err := composer.Compose(context.Background(), nil, "what is the refund policy?", nil)
	require.NoError(t, err)
	assert.True(t, answer.InsufficientEvidence)
	assert.Empty(t, answer.Citations)
	assert.NotEmpty(t, answer.Text)
	assert.Zero(t, provider.callCount(), "an empty corpus must not reach the model")
}

func TestComposer_AttachesCitationsAndGroundedness(t *testing.T) {
	provider := &fakeGenerationProvider{
		answer: "The refund window is thirty days from purchase. Shipping costs are not refundable.",
	}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{GroundingThreshold: 0.3})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "Customers may request a refund within a window of thirty days from the purchase date.", 0.9),
		candidate("d2:0000", "d2", "Shipping costs and handling fees are not refundable under any circumstances.", 0.8),
	}
	answer, err := composer.Compose(context.Background(), nil, "what is the refund policy?", candidates)
	require.NoError(t, err)

	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "d1:0000", answer.Citations[0].ChunkID)
	assert.Equal(t, "d2:0000", answer.Citations[1].ChunkID)
	assert.InDelta(t, 1.0, answer.Groundedness, 0.01, "both sentences are supported")
	assert.True(t, answer.Grounded)
	assert.False(t, answer.InsufficientEvidence)
	assert.Equal(t, "fake-chat-v1", answer.Model)
}

func TestComposer_UnsupportedClaimsLowerGroundedness(t *testing.T) {
	provider := &fakeGenerationProvider{
		answer: "The refund window is thirty days from purchase. Jupiter has seventy nine known moons orbiting it.",
	}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{GroundingThreshold: 0.3, GroundedMinimum: 0.8})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "Customers may request a refund within a window of thirty days from the purchase date.", 0.9),
	}
	answer, err := composer.Compose(context.Background(), nil, "refund policy?", candidates)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, answer.Groundedness, 0.01)
	assert.False(t, answer.Grounded, "a half-hallucinated answer is flagged")
	assert.Len(t, answer.Citations, 1)
}

func TestComposer_ContextBudgetPacking(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "short answer."}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{ContextBudget: 120})

	long := strings.Repeat("alpha beta gamma delta ", 10) // well over budget
	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", strings.Repeat("x", 100), 0.9),
		candidate("d2:0000", "d2", long, 0.8),
		candidate("d3:0000", "d3", "short tail", 0.7),
	}
	_, err := composer.Compose(context.Background(), nil, "question?", candidates)
	require.NoError(t, err)

	// Only the first candidate fits the 120-char budget; the prompt must
	// not contain the over-budget text.
	prompt := provider.lastMessages()[0].Content
	assert.Contains(t, prompt, strings.Repeat("x", 100))
	assert.NotContains(t, prompt, long)
	assert.NotContains(t, prompt, "short tail")
}

func TestComposer_SingleOversizeCandidateTruncated(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "short answer."}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{ContextBudget: 50})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", strings.Repeat("y", 200), 0.9),
	}
	_, err := composer.Compose(context.Background(), nil, "question?", candidates)
	require.NoError(t, err)

	prompt := provider.lastMessages()[0].Content
	assert.Contains(t, prompt, strings.Repeat("y", 50))
	assert.NotContains(t, prompt, strings.Repeat("y", 51))
}

func TestComposer_FallbackProvider(t *testing.T) {
	primary := &fakeGenerationProvider{name: "primary-model", err: domain.ErrGenerationUnavailable}
	fallback := &fakeGenerationProvider{name: "fallback-model", answer: "answer from the fallback."}
	composer := NewAnswerComposer(primary, fallback, nil, ComposerConfig{})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "answer from the fallback is grounded here.", 0.9),
	}
	answer, err := composer.Compose(context.Background(), nil, "question?", candidates)
	require.NoError(t, err)
	assert.Equal(t, "fallback-model", answer.Model)
	assert.Equal(t, 1, primary.callCount())
	assert.Equal(t, 1, fallback.callCount())
}

func TestComposer_BothProvidersDown(t *testing.T) {
	primary := &fakeGenerationProvider{err: domain.ErrGenerationUnavailable}
	fallback := &fakeGenerationProvider{err: domain.ErrGenerationUnavailable}
	composer := NewAnswerComposer(primary, fallback, nil, ComposerConfig{})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "some context text here.", 0.9),
	}
	_, err := composer.Compose(context.Background(), nil, "question?", candidates)
	assert.ErrorIs(t, err, domain.ErrGenerationUnavailable)
}

func TestComposer_StreamingForwardsTokens(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "streamed refund window is thirty days."}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{GroundingThreshold: 0.3})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "The refund window is thirty days, streamed or not.", 0.9),
	}
	var streamed strings.Builder
	answer, err := composer.ComposeStream(context.Background(), nil, "refund?", candidates, func(tok string) {
		streamed.WriteString(tok)
	})
	require.NoError(t, err)
	assert.Equal(t, answer.Text, streamed.String())
	assert.NotEmpty(t, answer.Citations, "citations attach after the stream completes")
}

func TestComposer_HistoryWindow(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "a contextual answer."}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{HistoryWindow: 2})

	session := &domain.ConversationSession{ID: "s-1"}
	for _, q := range []string{"first question", "second question", "third question"} {
		session.Turns = append(session.Turns, domain.Turn{Query: q, AnswerText: "answer to " + q})
	}

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "a contextual answer lives in this chunk of text.", 0.9),
	}
	_, err := composer.Compose(context.Background(), session, "fourth question", candidates)
	require.NoError(t, err)

	messages := provider.lastMessages()
	// system + 2 truncated turns (user+assistant each) + new question.
	require.Len(t, messages, 6)
	assert.Equal(t, "second question", messages[1].Content)
	assert.Equal(t, "third question", messages[3].Content)
	assert.Equal(t, "fourth question", messages[5].Content)

	for _, m := range messages {
		assert.NotContains(t, m.Content, "first question", "history is truncated to the window")
	}
}

func TestComposer_CostEstimate(t *testing.T) {
	provider := &fakeGenerationProvider{answer: "priced answer.", cost: 0.01}
	composer := NewAnswerComposer(provider, nil, nil, ComposerConfig{})

	candidates := []domain.RetrievalCandidate{
		candidate("d1:0000", "d1", "a priced answer requires context text.", 0.9),
	}
	answer, err := composer.Compose(context.Background(), nil, "question?", candidates)
	require.NoError(t, err)
	assert.Greater(t, answer.CostEstimate, 0.0)
}
