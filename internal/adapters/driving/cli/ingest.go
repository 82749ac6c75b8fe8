package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
)

var (
	ingestMIME    string
	ingestName    string
	ingestTags    []string
	ingestWait    bool
	ingestTimeout time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document into the index",
	Long: `Registers a file for processing and enqueues it through extraction,
chunking, embedding and indexing. With --wait the command processes the
queue and reports the final state.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestMIME, "mime", "", "content type (default inferred from extension)")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "document name (default file basename)")
	ingestCmd.Flags().StringSliceVar(&ingestTags, "tag", nil, "tag carried into index metadata (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", true, "process the document and wait for its final state")
	ingestCmd.Flags().DurationVar(&ingestTimeout, "timeout", 5*time.Minute, "maximum time to wait for processing")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	name := ingestName
	if name == "" {
		name = filepath.Base(path)
	}
	contentType := ingestMIME
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
		if idx := strings.Index(contentType, ";"); idx >= 0 {
			contentType = strings.TrimSpace(contentType[:idx])
		}
		if contentType == "" {
			contentType = "text/plain"
		}
	}

	ctx := cmd.Context()
	docID, err := ingestService.Ingest(ctx, driving.IngestRequest{
		TenantID: currentTenant(),
		UserID:   currentUser(),
		Name:     name,
		FileRef:  path,
		MIME:     contentType,
		Tags:     ingestTags,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	cmd.Printf("Document %s enqueued\n", docID)

	if !ingestWait {
		return nil
	}
	return waitForDocument(ctx, cmd, docID)
}

// waitForDocument runs the worker pool until the document reaches a
// terminal state or the timeout expires.
func waitForDocument(ctx context.Context, cmd *cobra.Command, docID string) error {
	ctx, cancel := context.WithTimeout(ctx, ingestTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = workerPool.Run(ctx)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-done
			return fmt.Errorf("timed out waiting for document %s", docID)
		case <-ticker.C:
		}

		status, err := ingestService.Status(ctx, currentTenant(), docID)
		if err != nil {
			cancel()
			<-done
			return fmt.Errorf("status poll failed: %w", err)
		}

		switch status.State {
		case domain.StateIndexed:
			cancel()
			<-done
			cmd.Printf("Document %s indexed\n", docID)
			return nil
		case domain.StateFailed:
			cancel()
			<-done
			return fmt.Errorf("document %s failed at %s stage: %s (retryable: %t)",
				docID, status.FailedStage, status.Error, status.Retryable)
		}
	}
}
