package driven

import (
	"context"
	"io"
)

// FileStore resolves stored-file handles to their bytes. Where the bytes
// physically live is the upload collaborator's concern; the core only
// reads them during extraction and duplicate detection.
type FileStore interface {
	// Open returns a reader over the stored file.
	Open(ctx context.Context, fileRef string) (io.ReadCloser, error)
}
