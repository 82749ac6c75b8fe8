// Package extractors converts raw document bytes into ordered text blocks.
// Each extractor handles specific MIME types; the registry dispatches on
// the declared type.
package extractors

import (
	"context"
	"fmt"
	"io"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Registry selects an extractor by MIME type.
type Registry struct {
	extractors []driven.Extractor
}

// NewRegistry creates a registry over the given extractors, tried in order.
func NewRegistry(extractors ...driven.Extractor) *Registry {
	return &Registry{extractors: extractors}
}

// Register appends an extractor.
func (r *Registry) Register(e driven.Extractor) {
	r.extractors = append(r.extractors, e)
}

// Extract dispatches to the first extractor supporting the MIME type.
// Returns domain.ErrUnsupportedFormat when none does.
func (r *Registry) Extract(ctx context.Context, reader io.Reader, mime string) ([]domain.TextBlock, error) {
	for _, e := range r.extractors {
		if e.Supports(mime) {
			return e.Extract(ctx, reader, mime)
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mime)
}

// Supports reports whether any registered extractor handles the MIME type.
func (r *Registry) Supports(mime string) bool {
	for _, e := range r.extractors {
		if e.Supports(mime) {
			return true
		}
	}
	return false
}

var _ driven.Extractor = (*Registry)(nil)
