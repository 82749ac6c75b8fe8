package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/archon-labs/docbrain/internal/adapters/driven/intake/watcher"
	"github.com/archon-labs/docbrain/internal/logger"
)

var (
	serveInbox     string
	serveInboxTags []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion workers",
	Long: `Runs the ingestion worker pool and session sweeper until interrupted.
With --inbox, files dropped into the directory are ingested automatically.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveInbox, "inbox", "", "directory to watch for incoming documents")
	serveCmd.Flags().StringSliceVar(&serveInboxTags, "inbox-tag", nil, "tag applied to inbox documents (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if ingestService == nil || workerPool == nil {
		return errors.New("ingest service not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerPool.Run(ctx)
	})
	g.Go(func() error {
		sessionManager.RunSweeper(ctx)
		return nil
	})

	inbox := serveInbox
	if inbox == "" {
		inbox = strOr("serve.inbox", "")
	}
	if inbox != "" {
		w, err := watcher.New(watcher.Config{
			Dir:      inbox,
			TenantID: currentTenant(),
			UserID:   currentUser(),
			Tags:     serveInboxTags,
			Settle:   time.Duration(intOr("serve.inbox_settle_ms", 0)) * time.Millisecond,
		}, ingestService)
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	logger.Info("docbrain serving (tenant %s)", currentTenant())
	cmd.Println("Serving. Press Ctrl-C to stop.")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	cmd.Println("Stopped.")
	return err
}
