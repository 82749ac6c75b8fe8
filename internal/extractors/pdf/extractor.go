// Package pdf extracts text from PDF documents page by page, falling back
// to OCR for pages without a text layer.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor reads PDF text per page. When a page yields no native text
// and an OCR provider is configured, the raw page content is sent to OCR
// and the resulting block is tagged with the provider's confidence.
type Extractor struct {
	ocr driven.OCRProvider
}

// New creates a PDF extractor. The OCR provider is optional; without it,
// image-only pages produce no blocks.
func New(ocr driven.OCRProvider) *Extractor {
	return &Extractor{ocr: ocr}
}

// Supports reports whether the extractor handles the MIME type.
func (e *Extractor) Supports(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return mime == "application/pdf" || strings.HasPrefix(mime, "application/pdf;")
}

// Extract returns one text block per PDF page, pages numbered from 1.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, _ string) ([]domain.TextBlock, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptedInput, err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptedInput, err)
	}

	var blocks []domain.TextBlock
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text := pageText(page)
		confidence := 1.0

		if strings.TrimSpace(text) == "" && e.ocr != nil {
			// No text layer; hand the page to OCR.
			ocrText, conf, err := e.ocr.Recognise(ctx, data)
			if err != nil {
				return nil, fmt.Errorf("ocr page %d: %w", pageNum, err)
			}
			text = ocrText
			confidence = conf
		}

		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, domain.TextBlock{
			Page:       pageNum,
			Ordinal:    len(blocks),
			Text:       strings.TrimSpace(text),
			Confidence: confidence,
		})
	}

	return blocks, nil
}

// pageText pulls the plain text of one page, tolerating malformed content
// streams on individual pages.
func pageText(page pdf.Page) (text string) {
	defer func() {
		// The pdf library panics on some malformed pages; treat those
		// pages as empty rather than failing the whole document.
		if recover() != nil {
			text = ""
		}
	}()
	text, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
