package services

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// fakeEmbeddingProvider produces deterministic vectors from character
// statistics so similar texts land near each other, and counts calls for
// cache and batching assertions.
type fakeEmbeddingProvider struct {
	mu         sync.Mutex
	calls      int
	texts      []string
	dimensions int
	err        error
}

func newFakeEmbeddingProvider() *fakeEmbeddingProvider {
	return &fakeEmbeddingProvider{dimensions: 8}
}

func (p *fakeEmbeddingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.calls++
	p.texts = append(p.texts, texts...)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = fakeVector(text, p.dimensions)
	}
	return out, nil
}

func (p *fakeEmbeddingProvider) Dimensions() int              { return p.dimensions }
func (p *fakeEmbeddingProvider) ModelName() string            { return "fake-embed-v1" }
func (p *fakeEmbeddingProvider) Ping(context.Context) error   { return nil }
func (p *fakeEmbeddingProvider) Close() error                 { return nil }

func (p *fakeEmbeddingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeEmbeddingProvider) embeddedTexts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// fakeVector buckets word tokens into dimensions by their first rune, so
// texts sharing vocabulary get high cosine similarity.
func fakeVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		v[int(tok[0])%dims]++
	}
	// Leave the all-zero vector for empty text.
	return v
}

// fakeGenerationProvider returns a canned answer and records the prompt.
type fakeGenerationProvider struct {
	mu       sync.Mutex
	name     string
	answer   string
	err      error
	calls    int
	messages [][]driven.ChatMessage
	cost     float64
}

func (p *fakeGenerationProvider) Chat(_ context.Context, messages []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.messages = append(p.messages, messages)
	if p.err != nil {
		return "", p.err
	}
	return p.answer, nil
}

func (p *fakeGenerationProvider) ChatStream(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions, onToken func(string)) (string, error) {
	text, err := p.Chat(ctx, messages, opts)
	if err != nil {
		return "", err
	}
	for _, word := range strings.SplitAfter(text, " ") {
		onToken(word)
	}
	return text, nil
}

func (p *fakeGenerationProvider) ModelName() string {
	if p.name == "" {
		return "fake-chat-v1"
	}
	return p.name
}

func (p *fakeGenerationProvider) CostPerKiloToken() float64 { return p.cost }
func (p *fakeGenerationProvider) Ping(context.Context) error { return nil }
func (p *fakeGenerationProvider) Close() error               { return nil }

func (p *fakeGenerationProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeGenerationProvider) lastMessages() []driven.ChatMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return nil
	}
	return p.messages[len(p.messages)-1]
}

// fakeEventSink records emitted events.
type fakeEventSink struct {
	mu     sync.Mutex
	events []string
}

func (s *fakeEventSink) Emit(event string, _ map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeEventSink) has(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == event {
			return true
		}
	}
	return false
}
