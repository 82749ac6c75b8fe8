package driven

import (
	"context"
	"io"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// Extractor converts a raw document stream into ordered text blocks with
// page and position metadata. Extraction must be side-effect free so a
// failed stage can be retried safely.
type Extractor interface {
	// Extract reads the document and returns its text blocks in order.
	// Page numbering starts at 1. Returns domain.ErrCorruptedInput when
	// the bytes cannot be parsed and respects ctx cancellation.
	Extract(ctx context.Context, r io.Reader, mime string) ([]domain.TextBlock, error)

	// Supports reports whether the extractor handles the MIME type.
	Supports(mime string) bool
}

// OCRProvider recognises text on image-based pages. It is an external
// collaborator; the core only depends on this contract.
type OCRProvider interface {
	// Recognise returns the text of a rendered page image together with
	// a confidence score in (0, 1].
	Recognise(ctx context.Context, image []byte) (text string, confidence float64, err error)

	// Ping validates the provider is reachable.
	Ping(ctx context.Context) error
}
