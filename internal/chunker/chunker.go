// Package chunker splits extracted text blocks into overlapping chunks
// with stable, deterministic identifiers.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

// blockSeparator joins adjacent text blocks into the document text the
// chunker windows over.
const blockSeparator = "\n"

// sentenceEnds are the runes treated as sentence terminators by the
// boundary heuristic.
const sentenceEnds = ".!?\n"

// Chunker windows document text into chunks of at most ChunkSize
// characters, sliding back by Overlap at each boundary so adjacent chunks
// share context.
type Chunker struct {
	cfg domain.ChunkConfig
}

// New creates a chunker, validating the configuration.
func New(cfg domain.ChunkConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// span tracks which region of the joined text a block occupies.
type span struct {
	start, end int
	page       int
	confidence float64
}

// Join concatenates block texts into the document text the chunker
// operates on. Chunk offsets are relative to this text.
func Join(blocks []domain.TextBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, blockSeparator)
}

// Chunk splits the blocks of a document into ordered chunks. The
// concatenation of chunk texts minus their overlaps reconstructs the
// joined block text exactly. Blocks larger than ChunkSize are split;
// otherwise boundaries prefer sentence or block ends within the
// configured tolerance.
func (c *Chunker) Chunk(doc *domain.Document, blocks []domain.TextBlock) ([]domain.Chunk, error) {
	if err := c.cfg.Validate(); err != nil {
		return nil, err
	}

	text, spans := joinWithSpans(blocks)
	if text == "" {
		return nil, nil
	}

	size := c.cfg.ChunkSize
	overlap := c.cfg.Overlap

	var chunks []domain.Chunk
	start := 0
	prevOverlap := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			// Window offsets count bytes; never cut a multibyte rune
			// in half.
			end = snapToRuneStart(text, end)
			if end <= start {
				_, n := utf8.DecodeRuneInString(text[start:])
				end = start + n
			}
			if adjusted := c.breakPoint(text, spans, start, end); adjusted > start+overlap {
				// Only take the softer boundary when it still makes
				// forward progress past the next chunk's overlap.
				end = adjusted
			}
		}

		chunks = append(chunks, domain.Chunk{
			ID:          domain.ChunkID(doc.ID, len(chunks)),
			DocumentID:  doc.ID,
			TenantID:    doc.TenantID,
			Text:        text[start:end],
			Ordinal:     len(chunks),
			StartOffset: start,
			EndOffset:   end,
			Page:        pageAt(spans, start),
			PrevOverlap: prevOverlap,
			Confidence:  confidenceOver(spans, start, end),
		})

		if end == len(text) {
			break
		}
		next := snapToRuneStart(text, end-overlap)
		if next <= start {
			next = end
		}
		prevOverlap = end - next
		start = next
	}

	chunks = c.foldShortTail(chunks)
	return chunks, nil
}

// breakPoint looks back from the hard window end for a sentence or block
// boundary within the tolerance distance. Returns end unchanged when none
// is found or the heuristic is disabled.
func (c *Chunker) breakPoint(text string, spans []span, start, end int) int {
	tol := c.cfg.SentenceTolerance
	if tol <= 0 {
		return end
	}
	low := end - tol
	if low < start {
		low = start
	}

	// Block ends are the strongest boundaries; take the latest in range.
	best := 0
	for _, sp := range spans {
		if sp.end > low && sp.end <= end && sp.end > best {
			best = sp.end
		}
	}
	if best > 0 {
		return best
	}
	for i := end - 1; i >= low; i-- {
		if strings.ContainsRune(sentenceEnds, rune(text[i])) {
			return i + 1
		}
	}
	return end
}

// foldShortTail merges a trailing fragment shorter than MinChunkSize into
// the previous chunk, keeping reconstruction lossless.
func (c *Chunker) foldShortTail(chunks []domain.Chunk) []domain.Chunk {
	n := len(chunks)
	if n < 2 || c.cfg.MinChunkSize <= 0 {
		return chunks
	}
	last := chunks[n-1]
	if len(last.Text)-last.PrevOverlap >= c.cfg.MinChunkSize {
		return chunks
	}

	prev := &chunks[n-2]
	prev.Text += last.Text[last.PrevOverlap:]
	prev.EndOffset = last.EndOffset
	if last.Confidence < prev.Confidence {
		prev.Confidence = last.Confidence
	}
	return chunks[:n-1]
}

// snapToRuneStart moves a byte offset back to the start of the rune it
// falls inside, so slicing at it cannot produce invalid UTF-8.
func snapToRuneStart(text string, i int) int {
	for i > 0 && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// joinWithSpans joins block texts and records each block's region.
func joinWithSpans(blocks []domain.TextBlock) (string, []span) {
	var sb strings.Builder
	spans := make([]span, 0, len(blocks))
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString(blockSeparator)
		}
		start := sb.Len()
		sb.WriteString(b.Text)
		conf := b.Confidence
		if conf == 0 {
			conf = 1
		}
		spans = append(spans, span{start: start, end: sb.Len(), page: b.Page, confidence: conf})
	}
	return sb.String(), spans
}

// pageAt returns the page of the block containing the offset.
func pageAt(spans []span, offset int) int {
	for _, sp := range spans {
		if offset < sp.end {
			return sp.page
		}
	}
	if len(spans) > 0 {
		return spans[len(spans)-1].page
	}
	return 1
}

// confidenceOver returns the minimum confidence of blocks overlapping the
// region.
func confidenceOver(spans []span, start, end int) float64 {
	min := 1.0
	for _, sp := range spans {
		if sp.end <= start || sp.start >= end {
			continue
		}
		if sp.confidence < min {
			min = sp.confidence
		}
	}
	return min
}

// Reconstruct rebuilds the joined document text from ordered chunks by
// dropping each chunk's leading overlap. Used to verify losslessness.
func Reconstruct(chunks []domain.Chunk) string {
	var sb strings.Builder
	for _, ch := range chunks {
		sb.WriteString(ch.Text[ch.PrevOverlap:])
	}
	return sb.String()
}
