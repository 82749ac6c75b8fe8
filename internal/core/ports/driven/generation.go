package driven

import "context"

// ChatMessage is a single message in a generation conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures a generation call.
type ChatOptions struct {
	// MaxTokens caps the length of the generated completion.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64
}

// GenerationProvider produces answer text from an assembled prompt.
//
// Implementations may include OpenAI, Anthropic, or local inference
// servers; the composer depends only on this contract so it can fall back
// to a lower-capability model when the primary is unavailable.
type GenerationProvider interface {
	// Chat returns the completion for a multi-turn conversation.
	// Returns domain.ErrGenerationUnavailable when the backend cannot
	// be reached.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)

	// ChatStream streams completion tokens to onToken as they arrive
	// and returns the full text once generation completes. Cancelling
	// ctx stops forwarding to the caller.
	ChatStream(ctx context.Context, messages []ChatMessage, opts ChatOptions, onToken func(token string)) (string, error)

	// ModelName returns the generation model identifier.
	ModelName() string

	// CostPerKiloToken returns an approximate combined USD rate used for
	// answer cost estimates. Zero when unknown.
	CostPerKiloToken() float64

	// Ping validates the service is reachable with a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
