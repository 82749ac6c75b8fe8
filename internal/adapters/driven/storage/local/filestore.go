// Package local provides a file store over the local filesystem. File
// references are absolute paths recorded at intake time.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure FileStore implements the interface.
var _ driven.FileStore = (*FileStore)(nil)

// FileStore reads document bytes from local paths.
type FileStore struct {
	// root, when set, confines file references to a directory tree.
	root string
}

// New creates a file store. With a non-empty root, Open rejects
// references outside that directory.
func New(root string) *FileStore {
	return &FileStore{root: root}
}

// Open returns a reader over the referenced file.
func (s *FileStore) Open(ctx context.Context, fileRef string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := fileRef
	if !filepath.IsAbs(path) && s.root != "" {
		path = filepath.Join(s.root, path)
	}
	if s.root != "" {
		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: file reference escapes store root", domain.ErrInvalidInput)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", domain.ErrNotFound, fileRef)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}
