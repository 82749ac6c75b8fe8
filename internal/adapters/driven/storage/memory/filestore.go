package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
)

// Ensure FileStore implements the interface.
var _ driven.FileStore = (*FileStore)(nil)

// FileStore is an in-memory implementation of driven.FileStore, keyed by
// file reference.
type FileStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewFileStore creates a new in-memory file store.
func NewFileStore() *FileStore {
	return &FileStore{files: make(map[string][]byte)}
}

// Put stores bytes under a file reference.
func (s *FileStore) Put(fileRef string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[fileRef] = data
}

// Remove drops a stored file.
func (s *FileStore) Remove(fileRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, fileRef)
}

// Open returns a reader over the stored file.
func (s *FileStore) Open(_ context.Context, fileRef string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[fileRef]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
