package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/agentic-rag/internal/api"
	"github.com/knoguchi/agentic-rag/internal/config"
	"github.com/knoguchi/agentic-rag/internal/embedder"
	"github.com/knoguchi/agentic-rag/internal/generator"
	"github.com/knoguchi/agentic-rag/internal/grader"
	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/pipeline"
	"github.com/knoguchi/agentic-rag/internal/reranker"
	"github.com/knoguchi/agentic-rag/internal/retrieval"
	"github.com/knoguchi/agentic-rag/internal/rewriter"
	"github.com/knoguchi/agentic-rag/internal/session"
	"github.com/knoguchi/agentic-rag/internal/telemetry"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger := telemetry.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("starting agentic-rag service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
	)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantURL)
	if err != nil {
		return fmt.Errorf("connect to qdrant: %w", err)
	}
	defer vectorStore.Close()
	logger.Info("connected to qdrant", "collection", cfg.QdrantCollection)

	if err := vectorStore.EnsureTextIndex(ctx, cfg.QdrantCollection, "content"); err != nil {
		logger.Warn("lexical index unavailable, retrieval will run dense-only", "error", err)
	}

	embed := buildEmbedder(cfg)
	logger.Info("initialised embedder", "model", embed.ModelName(), "dimension", embed.Dimension())

	llmClient := llm.New(cfg)
	logger.Info("initialised llm client", "provider", cfg.LLMProvider)

	if err := checkDependencies(ctx, vectorStore, embed, cfg.QdrantCollection); err != nil {
		logger.Warn("startup dependency check found issues", "error", err)
	}

	rerankerImpl := buildReranker(cfg, llmClient)

	retrievalAdapter := retrieval.NewAdapter(embed, vectorStore, cfg.QdrantCollection)
	graderImpl := grader.New(llmClient, generationModel(cfg))
	generatorImpl := generator.New(llmClient, generationModel(cfg))
	rewriterImpl := rewriter.New(llmClient, generationModel(cfg))

	sessionStore, closeSessions, err := buildSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	runtime := pipeline.New(cfg, retrievalAdapter, rerankerImpl, graderImpl, generatorImpl, rewriterImpl, sessionStore)

	server := api.New(api.Config{
		Port:           cfg.HTTPPort,
		Runtime:        runtime,
		Logger:         logger,
		Store:          vectorStore,
		Collection:     cfg.QdrantCollection,
		AllowedOrigins: []string{"*"},
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shut down http server", "error", err)
	}

	logger.Info("service stopped")
	return nil
}

// checkDependencies runs the two independent startup probes (vector
// collection presence, embedder reachability) concurrently, so a slow or
// unreachable dependency doesn't serialize against the other at boot. The
// first probe error cancels the other probe and is the error returned.
func checkDependencies(ctx context.Context, store vectorstore.VectorStore, embed embedder.Embedder, collection string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		exists, err := store.CollectionExists(gCtx, collection)
		if err != nil {
			return fmt.Errorf("qdrant collection check: %w", err)
		}
		if !exists {
			return fmt.Errorf("qdrant collection %q does not exist yet", collection)
		}
		return nil
	})

	g.Go(func() error {
		if _, err := embed.Embed(gCtx, "startup health check"); err != nil {
			return fmt.Errorf("embedder reachability check: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// generationModel picks the chat model used for grading, generation,
// and rewriting, matching whichever provider is configured.
func generationModel(cfg *config.Config) string {
	switch cfg.LLMProvider {
	case "claude":
		return cfg.ClaudeModel
	case "openai":
		return cfg.OpenAIModel
	default:
		return cfg.OllamaLLMModel
	}
}

// buildEmbedder prefers a dedicated embedding model server when
// configured, falling back to Ollama's built-in embeddings endpoint.
func buildEmbedder(cfg *config.Config) embedder.Embedder {
	if cfg.EmbeddingServerURL != "" {
		return embedder.NewHTTPModelEmbedder(cfg.EmbeddingServerURL, cfg.EmbeddingModelID, cfg.EmbeddingDim, http.DefaultClient)
	}
	return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:   cfg.OllamaURL,
		Model:     cfg.EmbeddingModelID,
		Dimension: cfg.EmbeddingDim,
	})
}

// buildReranker prefers a dedicated cross-encoder reranker service when
// configured, falling back to scoring with the chat model itself.
func buildReranker(cfg *config.Config, llmClient llm.LLM) reranker.Reranker {
	if cfg.RerankerServerURL != "" {
		return reranker.NewHTTPReranker(cfg.RerankerServerURL, http.DefaultClient)
	}
	return reranker.NewLLMReranker(llmClient, reranker.WithModel(generationModel(cfg)))
}

// buildSessionStore wires an optional Postgres-backed checkpoint
// behind the in-memory store when CHECKPOINT_BACKEND_URL is set.
func buildSessionStore(ctx context.Context, cfg *config.Config) (*session.Store, func(), error) {
	if cfg.CheckpointBackendURL == "" {
		return session.NewStore(cfg.SessionMaxHistory, cfg.SessionTTL, nil), func() {}, nil
	}

	checkpoint, err := session.NewPostgresCheckpoint(ctx, cfg.CheckpointBackendURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect checkpoint backend: %w", err)
	}
	store := session.NewStore(cfg.SessionMaxHistory, cfg.SessionTTL, checkpoint)
	return store, checkpoint.Close, nil
}

// Ensure interfaces are satisfied at compile time.
var (
	_ embedder.Embedder      = (*embedder.OllamaEmbedder)(nil)
	_ embedder.Embedder      = (*embedder.HTTPModelEmbedder)(nil)
	_ llm.LLM                = (*llm.OllamaClient)(nil)
	_ vectorstore.VectorStore = (*vectorstore.QdrantStore)(nil)
	_ reranker.Reranker      = (*reranker.LLMReranker)(nil)
	_ reranker.Reranker      = (*reranker.HTTPReranker)(nil)
)
