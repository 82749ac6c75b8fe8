package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
)

var (
	querySession string
	queryStream  bool
	queryJSON    bool
	queryTopK    int
	queryTags    []string
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Ask a question grounded in the indexed documents",
	Long: `Retrieves relevant chunks with hybrid vector and keyword search and
composes a cited answer. Pass --session to continue a conversation.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&querySession, "session", "", "session ID to continue a conversation")
	queryCmd.Flags().BoolVar(&queryStream, "stream", false, "print answer tokens as they arrive")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the answer as JSON")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "n", 0, "override retrieval depth")
	queryCmd.Flags().StringSliceVar(&queryTags, "tag", nil, "restrict retrieval to documents with this tag (repeatable)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	req := driving.QueryRequest{
		TenantID:  currentTenant(),
		UserID:    currentUser(),
		SessionID: querySession,
		Text:      args[0],
		Filter:    domain.Filter{Tags: queryTags},
		TopK:      queryTopK,
	}

	var answer *domain.Answer
	var err error
	if queryStream && !queryJSON {
		answer, err = queryService.QueryStream(cmd.Context(), req, func(token string) {
			cmd.Print(token)
		})
		cmd.Println()
	} else {
		answer, err = queryService.Query(cmd.Context(), req)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if !queryStream {
		cmd.Println(answer.Text)
	}
	printAnswerMeta(cmd, answer)
	return nil
}

func printAnswerMeta(cmd *cobra.Command, answer *domain.Answer) {
	cmd.Println()
	if len(answer.Citations) > 0 {
		cmd.Println("Sources:")
		for i, c := range answer.Citations {
			cmd.Printf("  [%d] document %s, page %d (%.2f)\n", i+1, c.DocumentID, c.Page, c.Score)
		}
	}
	if !answer.InsufficientEvidence {
		cmd.Printf("Groundedness: %.0f%%", answer.Groundedness*100)
		if !answer.Grounded {
			cmd.Print(" (low; verify against sources)")
		}
		cmd.Println()
	}
	if answer.SessionID != "" {
		cmd.Printf("Session: %s\n", answer.SessionID)
	}
}
