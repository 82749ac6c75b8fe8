// Package plaintext extracts text and markdown documents.
package plaintext

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

var supportedMIMEs = map[string]bool{
	"text/plain":    true,
	"text/markdown": true,
	"text/csv":      true,
	"text/html":     false, // needs tag stripping, not handled here
}

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// Extractor handles plain text formats. The whole input becomes page 1,
// split into one block per paragraph so chunk boundaries can align with
// paragraph breaks.
type Extractor struct{}

// New creates a plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Supports reports whether the extractor handles the MIME type.
func (e *Extractor) Supports(mime string) bool {
	return supportedMIMEs[normaliseMIME(mime)]
}

// Extract reads the input and returns one block per paragraph.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, mime string) ([]domain.TextBlock, error) {
	if !e.Supports(mime) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, mime)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptedInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := cleanText(string(data))
	if text == "" {
		return nil, nil
	}

	paragraphs := blankLines.Split(text, -1)
	blocks := make([]domain.TextBlock, 0, len(paragraphs))
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		blocks = append(blocks, domain.TextBlock{
			Page:       1,
			Ordinal:    len(blocks),
			Text:       p,
			Confidence: 1,
		})
	}
	return blocks, nil
}

// cleanText normalises line endings and collapses runs of spaces.
func cleanText(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var sb strings.Builder
	space := false
	for _, r := range text {
		if r == ' ' || r == '\t' {
			space = true
			continue
		}
		if space && r != '\n' && sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		space = false
		sb.WriteRune(r)
	}
	return strings.TrimSpace(sb.String())
}

func normaliseMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
