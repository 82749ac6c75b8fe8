package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

const composerSystemPrompt = `You are a document assistant. Answer the question using only the provided context passages. Cite passages by their bracketed number, for example [2]. If the context does not contain the answer, say you do not have enough information.`

const insufficientEvidenceAnswer = "I don't have enough information in the indexed documents to answer that question."

// ComposerConfig tunes prompt assembly and citation attachment.
type ComposerConfig struct {
	// ContextBudget caps the total characters of context packed into the
	// prompt.
	ContextBudget int

	// HistoryWindow is how many prior turns are replayed to the model.
	HistoryWindow int

	// MaxTokens caps the generated completion.
	MaxTokens int

	// Temperature for generation.
	Temperature float64

	// GroundingThreshold is the minimum token-overlap similarity between
	// an answer sentence and a context chunk for the sentence to count as
	// supported.
	GroundingThreshold float64

	// GroundedMinimum is the groundedness fraction below which the answer
	// is flagged as possibly hallucinated.
	GroundedMinimum float64
}

// DefaultComposerConfig returns the composition defaults.
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		ContextBudget:      12000,
		HistoryWindow:      6,
		MaxTokens:          1024,
		Temperature:        0.1,
		GroundingThreshold: 0.2,
		GroundedMinimum:    0.5,
	}
}

// AnswerComposer packs retrieved chunks into a bounded prompt, invokes
// generation and attaches citations and a groundedness signal to the
// result.
type AnswerComposer struct {
	primary  driven.GenerationProvider
	fallback driven.GenerationProvider
	events   driven.EventSink
	cfg      ComposerConfig
}

// NewAnswerComposer creates the composer. fallback may be nil; when set it
// is tried after the primary provider reports itself unavailable.
func NewAnswerComposer(primary, fallback driven.GenerationProvider, events driven.EventSink, cfg ComposerConfig) *AnswerComposer {
	def := DefaultComposerConfig()
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = def.ContextBudget
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = def.HistoryWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.GroundingThreshold <= 0 {
		cfg.GroundingThreshold = def.GroundingThreshold
	}
	if cfg.GroundedMinimum <= 0 {
		cfg.GroundedMinimum = def.GroundedMinimum
	}
	return &AnswerComposer{primary: primary, fallback: fallback, events: events, cfg: cfg}
}

// Compose generates an answer to query from the ranked candidates. With no
// candidates it returns an insufficient-evidence answer without calling the
// model.
func (c *AnswerComposer) Compose(ctx context.Context, session *domain.ConversationSession, query string, candidates []domain.RetrievalCandidate) (*domain.Answer, error) {
	return c.compose(ctx, session, query, candidates, nil)
}

// ComposeStream is Compose with incremental token delivery. Citations and
// groundedness are only attached once the full text is available, so
// onToken receives raw text.
func (c *AnswerComposer) ComposeStream(ctx context.Context, session *domain.ConversationSession, query string, candidates []domain.RetrievalCandidate, onToken func(token string)) (*domain.Answer, error) {
	return c.compose(ctx, session, query, candidates, onToken)
}

func (c *AnswerComposer) compose(ctx context.Context, session *domain.ConversationSession, query string, candidates []domain.RetrievalCandidate, onToken func(token string)) (*domain.Answer, error) {
	if len(candidates) == 0 {
		if onToken != nil {
			onToken(insufficientEvidenceAnswer)
		}
		return &domain.Answer{
			ID:                   uuid.NewString(),
			Text:                 insufficientEvidenceAnswer,
			Citations:            []domain.Citation{},
			InsufficientEvidence: true,
			CreatedAt:            time.Now().UTC(),
		}, nil
	}

	packed, err := c.packContext(candidates)
	if err != nil {
		return nil, err
	}

	messages := c.buildMessages(session, query, packed)

	text, model, err := c.generate(ctx, messages, onToken)
	if err != nil {
		return nil, err
	}

	answer := &domain.Answer{
		ID:           uuid.NewString(),
		Text:         text,
		Model:        model,
		CostEstimate: c.estimateCost(messages, text),
		CreatedAt:    time.Now().UTC(),
	}
	if session != nil {
		answer.SessionID = session.ID
	}
	c.attachCitations(answer, packed)

	if c.events != nil {
		c.events.Emit("answer.composed", map[string]any{
			"answer_id":    answer.ID,
			"model":        answer.Model,
			"citations":    len(answer.Citations),
			"groundedness": answer.Groundedness,
			"grounded":     answer.Grounded,
		})
	}
	return answer, nil
}

// packContext selects candidates greedily in score order until the
// character budget is exhausted. At least one candidate always fits: a
// single over-budget candidate is truncated rather than dropped so the
// model never sees an empty context.
func (c *AnswerComposer) packContext(candidates []domain.RetrievalCandidate) ([]domain.RetrievalCandidate, error) {
	budget := c.cfg.ContextBudget
	used := 0
	packed := make([]domain.RetrievalCandidate, 0, len(candidates))

	for _, cand := range candidates {
		cost := len(cand.Text)
		if used+cost > budget {
			if len(packed) == 0 {
				cand.Text = cand.Text[:budget]
				packed = append(packed, cand)
				used = budget
			}
			break
		}
		used += cost
		packed = append(packed, cand)
	}

	if used > budget {
		return nil, fmt.Errorf("%w: packed %d chars into budget %d", domain.ErrContextBudget, used, budget)
	}
	return packed, nil
}

// buildMessages assembles the system prompt, the numbered context, the
// history window and the new query.
func (c *AnswerComposer) buildMessages(session *domain.ConversationSession, query string, packed []domain.RetrievalCandidate) []driven.ChatMessage {
	var ctxBuf strings.Builder
	ctxBuf.WriteString("Context passages:\n\n")
	for i, cand := range packed {
		fmt.Fprintf(&ctxBuf, "[%d] (page %d)\n%s\n\n", i+1, cand.Page, cand.Text)
	}

	messages := []driven.ChatMessage{
		{Role: "system", Content: composerSystemPrompt + "\n\n" + ctxBuf.String()},
	}
	if session != nil {
		for _, turn := range session.History(c.cfg.HistoryWindow) {
			messages = append(messages,
				driven.ChatMessage{Role: "user", Content: turn.Query},
				driven.ChatMessage{Role: "assistant", Content: turn.AnswerText},
			)
		}
	}
	messages = append(messages, driven.ChatMessage{Role: "user", Content: query})
	return messages
}

// generate calls the primary provider and falls back to the secondary one
// when the primary is unavailable. Returns the text and the model that
// produced it.
func (c *AnswerComposer) generate(ctx context.Context, messages []driven.ChatMessage, onToken func(token string)) (string, string, error) {
	opts := driven.ChatOptions{MaxTokens: c.cfg.MaxTokens, Temperature: c.cfg.Temperature}

	text, err := c.call(ctx, c.primary, messages, opts, onToken)
	if err == nil {
		return text, c.primary.ModelName(), nil
	}
	if c.fallback == nil {
		return "", "", err
	}
	logger.Warn("Primary generation failed, trying fallback model %s: %v", c.fallback.ModelName(), err)

	text, fbErr := c.call(ctx, c.fallback, messages, opts, onToken)
	if fbErr != nil {
		return "", "", fmt.Errorf("%w: primary: %v, fallback: %v", domain.ErrGenerationUnavailable, err, fbErr)
	}
	return text, c.fallback.ModelName(), nil
}

func (c *AnswerComposer) call(ctx context.Context, provider driven.GenerationProvider, messages []driven.ChatMessage, opts driven.ChatOptions, onToken func(token string)) (string, error) {
	if onToken != nil {
		return provider.ChatStream(ctx, messages, opts, onToken)
	}
	return provider.Chat(ctx, messages, opts)
}

// attachCitations maps each answer sentence back to the packed chunk with
// the highest token overlap and records the fraction of supported
// sentences as the groundedness score.
func (c *AnswerComposer) attachCitations(answer *domain.Answer, packed []domain.RetrievalCandidate) {
	sentences := splitSentences(answer.Text)
	if len(sentences) == 0 {
		answer.Citations = []domain.Citation{}
		return
	}

	chunkTokens := make([]map[string]struct{}, len(packed))
	for i, cand := range packed {
		chunkTokens[i] = tokenSet(cand.Text)
	}

	cited := make(map[string]domain.Citation)
	supported := 0
	for _, sentence := range sentences {
		st := tokenSet(sentence)
		bestIdx, bestSim := -1, 0.0
		for i := range packed {
			if sim := tokenOverlap(st, chunkTokens[i]); sim > bestSim {
				bestSim = sim
				bestIdx = i
			}
		}
		if bestIdx < 0 || bestSim < c.cfg.GroundingThreshold {
			continue
		}
		supported++
		cand := packed[bestIdx]
		if existing, ok := cited[cand.ChunkID]; !ok || bestSim > existing.Score {
			cited[cand.ChunkID] = domain.Citation{
				ChunkID:    cand.ChunkID,
				DocumentID: cand.DocumentID,
				Page:       cand.Page,
				Score:      bestSim,
			}
		}
	}

	citations := make([]domain.Citation, 0, len(cited))
	for _, cit := range cited {
		citations = append(citations, cit)
	}
	// Keep the packed order so citations read in context order.
	ordered := make([]domain.Citation, 0, len(citations))
	for _, cand := range packed {
		for _, cit := range citations {
			if cit.ChunkID == cand.ChunkID {
				ordered = append(ordered, cit)
			}
		}
	}

	answer.Citations = ordered
	answer.Groundedness = float64(supported) / float64(len(sentences))
	answer.Grounded = answer.Groundedness >= c.cfg.GroundedMinimum
}

// estimateCost approximates the call cost from character counts at roughly
// four characters per token.
func (c *AnswerComposer) estimateCost(messages []driven.ChatMessage, answer string) float64 {
	rate := c.primary.CostPerKiloToken()
	if rate == 0 {
		return 0
	}
	chars := len(answer)
	for _, m := range messages {
		chars += len(m.Content)
	}
	tokens := float64(chars) / 4
	return tokens / 1000 * rate
}

// splitSentences breaks text at sentence-ending punctuation and newlines,
// skipping fragments too short to attribute.
func splitSentences(text string) []string {
	var sentences []string
	var buf strings.Builder
	flush := func() {
		s := strings.TrimSpace(buf.String())
		buf.Reset()
		if len(s) >= 8 {
			sentences = append(sentences, s)
		}
	}
	for _, r := range text {
		buf.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}

// tokenSet lowercases and splits text into its distinct word tokens,
// dropping citation markers and short stopword-like tokens.
func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(tok) < 3 {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// tokenOverlap is the fraction of a's tokens also present in b.
func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	return float64(common) / float64(len(a))
}
