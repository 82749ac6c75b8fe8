// Package cli provides the docbrain command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configfile "github.com/archon-labs/docbrain/internal/adapters/driven/config/file"
	ollamaemb "github.com/archon-labs/docbrain/internal/adapters/driven/embedding/ollama"
	openaiemb "github.com/archon-labs/docbrain/internal/adapters/driven/embedding/openai"
	"github.com/archon-labs/docbrain/internal/adapters/driven/events/logsink"
	"github.com/archon-labs/docbrain/internal/adapters/driven/llm/anthropic"
	openaillm "github.com/archon-labs/docbrain/internal/adapters/driven/llm/openai"
	"github.com/archon-labs/docbrain/internal/adapters/driven/ocr/httpocr"
	"github.com/archon-labs/docbrain/internal/adapters/driven/storage/local"
	"github.com/archon-labs/docbrain/internal/adapters/driven/storage/sqlite"
	vecmem "github.com/archon-labs/docbrain/internal/adapters/driven/vectorindex/memory"
	"github.com/archon-labs/docbrain/internal/core/domain"
	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/core/ports/driving"
	"github.com/archon-labs/docbrain/internal/core/services"
	"github.com/archon-labs/docbrain/internal/extractors"
	"github.com/archon-labs/docbrain/internal/extractors/pdf"
	"github.com/archon-labs/docbrain/internal/extractors/plaintext"
	"github.com/archon-labs/docbrain/internal/logger"
)

// version is set by Execute.
var version = "dev"

// Persistent flags.
var (
	flagVerbose bool
	flagConfig  string
	flagDataDir string
	flagTenant  string
	flagUser    string
)

// Wired services. Tests can inject replacements before running a command.
var (
	cfg            *configfile.ConfigStore
	store          *sqlite.Store
	vectors        *vecmem.Index
	ingestService  driving.Ingestor
	queryService   driving.Querier
	sessionManager *services.SessionManager
	workerPool     *services.WorkerPool
)

var rootCmd = &cobra.Command{
	Use:   "docbrain",
	Short: "Ingest documents and ask questions grounded in them",
	Long: `docbrain ingests documents into a tenant-scoped index and answers
natural-language questions with citations back to the source pages.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(flagVerbose)
		switch cmd.Name() {
		case "version", "help", "completion":
			return nil
		}
		return bootstrap()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config directory (default ~/.docbrain)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.docbrain/data)")
	rootCmd.PersistentFlags().StringVar(&flagTenant, "tenant", "", "tenant to operate as (default from config)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "user to operate as (default from config)")
}

// Execute runs the CLI.
func Execute(v string) error {
	version = v
	defer teardown()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// bootstrap wires adapters and services. Tests that pre-populate the
// service variables skip wiring entirely.
func bootstrap() error {
	if ingestService != nil || queryService != nil {
		return nil
	}

	var err error
	cfg, err = configfile.NewConfigStore(flagConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err = sqlite.NewStore(flagDataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	vectors = vecmem.New()
	tenants, err := store.TenantIDs()
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if err := vectors.Rebuild(context.Background(), store.DocumentStore(), tenants); err != nil {
		return fmt.Errorf("rebuild vector index: %w", err)
	}

	events := logsink.New()

	embProvider, err := buildEmbeddingProvider()
	if err != nil {
		return err
	}
	embedder := services.NewEmbedder(embProvider, store.EmbeddingCache(), events, services.EmbedderConfig{
		MaxBatch:          intOr("embedding.max_batch", 0),
		RequestsPerSecond: cfg.GetFloat("embedding.requests_per_second"),
	})

	registry, err := buildExtractors()
	if err != nil {
		return err
	}

	ingestService, err = services.NewIngestOrchestrator(
		store.DocumentStore(),
		local.New(""),
		store.JobQueue(),
		registry,
		embedder,
		vectors,
		store.LexicalIndex(),
		events,
		services.OrchestratorConfig{
			Chunking:    chunkConfig(),
			MaxAttempts: intOr("ingest.max_attempts", 0),
		},
	)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	workerPool = services.NewWorkerPool(
		store.JobQueue(),
		ingestService.(*services.IngestOrchestrator),
		intOr("ingest.workers", 4),
		0,
	)

	retriever := services.NewRetriever(embedder, vectors, store.LexicalIndex(), store.DocumentStore(), events, services.RetrieverConfig{
		TopK:         intOr("retriever.top_k", 0),
		RRFConstant:  intOr("retriever.rrf_constant", 0),
		RerankTopM:   intOr("retriever.rerank_top_m", 0),
		RerankLambda: cfg.GetFloat("retriever.rerank_lambda"),
	})

	primary, fallback, err := buildGenerationProviders()
	if err != nil {
		return err
	}
	composer := services.NewAnswerComposer(primary, fallback, events, services.ComposerConfig{
		ContextBudget: intOr("composer.context_budget", 0),
		MaxTokens:     intOr("composer.max_tokens", 0),
		Temperature:   cfg.GetFloat("composer.temperature"),
	})

	sessionManager = services.NewSessionManager(store.SessionStore(), events, services.SessionConfig{})

	queryService = services.NewQueryService(sessionManager, retriever, composer)
	return nil
}

func teardown() {
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("close store: %v", err)
		}
	}
}

// buildEmbeddingProvider selects the embedding backend from config.
func buildEmbeddingProvider() (driven.EmbeddingProvider, error) {
	switch provider := strOr("embedding.provider", "openai"); provider {
	case "openai":
		return openaiemb.New(openaiemb.Config{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    cfg.GetString("embedding.base_url"),
			Model:      cfg.GetString("embedding.model"),
			Dimensions: cfg.GetInt("embedding.dimensions"),
		})
	case "ollama":
		return ollamaemb.New(ollamaemb.Config{
			BaseURL:    cfg.GetString("embedding.base_url"),
			Model:      cfg.GetString("embedding.model"),
			Dimensions: cfg.GetInt("embedding.dimensions"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}

// buildGenerationProviders selects the primary and optional fallback
// generation backends from config.
func buildGenerationProviders() (primary, fallback driven.GenerationProvider, err error) {
	primary, err = buildGenerationProvider(
		strOr("generation.provider", "openai"),
		cfg.GetString("generation.model"),
	)
	if err != nil {
		return nil, nil, err
	}

	if fbProvider := cfg.GetString("generation.fallback_provider"); fbProvider != "" {
		fallback, err = buildGenerationProvider(fbProvider, cfg.GetString("generation.fallback_model"))
		if err != nil {
			return nil, nil, err
		}
	}
	return primary, fallback, nil
}

func buildGenerationProvider(provider, model string) (driven.GenerationProvider, error) {
	switch provider {
	case "openai":
		return openaillm.New(openaillm.Config{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: cfg.GetString("generation.base_url"),
			Model:   model,
		})
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:  model,
		})
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}

// buildExtractors assembles the format registry. OCR is attached to the
// PDF extractor only when a recognition service is configured.
func buildExtractors() (*extractors.Registry, error) {
	var ocr driven.OCRProvider
	if url := cfg.GetString("ocr.base_url"); url != "" {
		var err error
		ocr, err = httpocr.New(httpocr.Config{
			BaseURL: url,
			APIKey:  os.Getenv("DOCBRAIN_OCR_API_KEY"),
		})
		if err != nil {
			return nil, fmt.Errorf("build OCR provider: %w", err)
		}
	}
	return extractors.NewRegistry(plaintext.New(), pdf.New(ocr)), nil
}

// currentTenant resolves the acting tenant from flag, config, then a
// single-tenant default.
func currentTenant() string {
	if flagTenant != "" {
		return flagTenant
	}
	return strOr("tenant", "default")
}

func currentUser() string {
	if flagUser != "" {
		return flagUser
	}
	return strOr("user", "local")
}

// chunkConfig overlays configured values on the chunking defaults.
func chunkConfig() domain.ChunkConfig {
	cc := domain.DefaultChunkConfig()
	if v := cfg.GetInt("chunker.chunk_size"); v > 0 {
		cc.ChunkSize = v
	}
	if v := cfg.GetInt("chunker.overlap"); v > 0 {
		cc.Overlap = v
	}
	if v := cfg.GetInt("chunker.min_chunk_size"); v > 0 {
		cc.MinChunkSize = v
	}
	if v := cfg.GetInt("chunker.sentence_tolerance"); v > 0 {
		cc.SentenceTolerance = v
	}
	return cc
}

func strOr(key, def string) string {
	if cfg == nil {
		return def
	}
	if v := cfg.GetString(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) int {
	if cfg == nil {
		return def
	}
	if v := cfg.GetInt(key); v != 0 {
		return v
	}
	return def
}
