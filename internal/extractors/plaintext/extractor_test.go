package plaintext

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-labs/docbrain/internal/core/domain"
)

func TestSupports(t *testing.T) {
	e := New()
	assert.True(t, e.Supports("text/plain"))
	assert.True(t, e.Supports("text/plain; charset=utf-8"))
	assert.True(t, e.Supports("text/markdown"))
	assert.False(t, e.Supports("application/pdf"))
	assert.False(t, e.Supports("image/png"))
}

func TestExtractParagraphs(t *testing.T) {
	e := New()
	input := "First paragraph.\n\nSecond  paragraph\nwith a continuation.\r\n\r\nThird."

	blocks, err := e.Extract(context.Background(), strings.NewReader(input), "text/plain")
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	assert.Equal(t, "First paragraph.", blocks[0].Text)
	assert.Contains(t, blocks[1].Text, "Second paragraph")
	assert.Equal(t, "Third.", blocks[2].Text)

	for i, b := range blocks {
		assert.Equal(t, 1, b.Page)
		assert.Equal(t, i, b.Ordinal)
		assert.InDelta(t, 1.0, b.Confidence, 1e-9)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := New()
	blocks, err := e.Extract(context.Background(), strings.NewReader("   \n\n  "), "text/plain")
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestExtractRejectsUnsupportedMIME(t *testing.T) {
	e := New()
	_, err := e.Extract(context.Background(), strings.NewReader("x"), "application/zip")
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}
