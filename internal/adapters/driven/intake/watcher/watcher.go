// Package watcher feeds files dropped into an inbox directory to the
// ingestion pipeline. It is the local-filesystem intake collaborator;
// uploads over HTTP land in the same pipeline through the same port.
package watcher

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/archon-labs/docbrain/internal/core/ports/driving"
	"github.com/archon-labs/docbrain/internal/logger"
)

// DefaultSettle is how long a file must stay quiet before it is picked
// up. Editors and download managers write in bursts.
const DefaultSettle = 500 * time.Millisecond

// Config holds configuration for the inbox watcher.
type Config struct {
	// Dir is the inbox directory to watch (required).
	Dir string

	// TenantID and UserID are attributed to every ingested file.
	TenantID string
	UserID   string

	// Tags are applied to every ingested file.
	Tags []string

	// Settle is the quiet period before a changed file is ingested
	// (default: 500ms).
	Settle time.Duration
}

// Watcher ingests files appearing in an inbox directory.
type Watcher struct {
	cfg      Config
	ingestor driving.Ingestor

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates an inbox watcher.
func New(cfg Config, ingestor driving.Ingestor) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watcher: inbox directory is required")
	}
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("watcher: tenant ID is required")
	}
	if cfg.Settle == 0 {
		cfg.Settle = DefaultSettle
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watcher: inbox path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watcher: inbox path %s is not a directory", cfg.Dir)
	}

	return &Watcher{
		cfg:      cfg,
		ingestor: ingestor,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Run watches the inbox until ctx is cancelled. Files present at startup
// are ingested as well, so documents dropped while the process was down
// are not lost.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", w.cfg.Dir, err)
	}

	w.sweepExisting(ctx)

	logger.Info("watching inbox %s", w.cfg.Dir)
	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("inbox watch error: %v", err)
		}
	}
}

// sweepExisting ingests files already present in the inbox.
func (w *Watcher) sweepExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		logger.Warn("inbox sweep failed: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		w.ingest(ctx, filepath.Join(w.cfg.Dir, entry.Name()))
	}
}

// schedule arms a settle timer for the path, resetting any existing one.
func (w *Watcher) schedule(ctx context.Context, path string) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return // Skip hidden and partial-download files.
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.cfg.Settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.Settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// ingest submits one settled file. Failures are logged, not fatal; a
// broken file must not stop the inbox.
func (w *Watcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}

	docID, err := w.ingestor.Ingest(ctx, driving.IngestRequest{
		TenantID: w.cfg.TenantID,
		UserID:   w.cfg.UserID,
		Name:     filepath.Base(path),
		FileRef:  path,
		MIME:     mimeForPath(path),
		Tags:     w.cfg.Tags,
	})
	if err != nil {
		logger.Warn("inbox ingest %s failed: %v", path, err)
		return
	}
	logger.Info("inbox ingested %s as document %s", filepath.Base(path), docID)
}

// mimeForPath guesses a content type from the file extension, defaulting
// to plain text so the pipeline's format check produces a clear error.
func mimeForPath(path string) string {
	mt := mime.TypeByExtension(filepath.Ext(path))
	if mt == "" {
		return "text/plain"
	}
	// Strip optional parameters like "; charset=utf-8".
	if idx := strings.Index(mt, ";"); idx >= 0 {
		mt = strings.TrimSpace(mt[:idx])
	}
	return mt
}
