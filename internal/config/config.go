// Package config loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the pipeline service, initialised once
// at startup and passed explicitly into every component constructor.
type Config struct {
	// Server
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// LLM provider selection
	LLMProvider    string `env:"LLM_PROVIDER" envDefault:"ollama"`
	AnthropicKey   string `env:"ANTHROPIC_API_KEY" envDefault:""`
	ClaudeModel    string `env:"CLAUDE_MODEL" envDefault:"claude-sonnet-4-20250514"`
	OpenAIKey      string `env:"OPENAI_API_KEY" envDefault:""`
	OpenAIModel    string `env:"OPENAI_MODEL" envDefault:"gpt-4o"`
	OllamaURL      string `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaLLMModel string `env:"OLLAMA_LLM_MODEL" envDefault:"llama3.1"`

	// Embedding
	EmbeddingModelID   string `env:"EMBEDDING_MODEL_ID" envDefault:"nomic-embed-text"`
	EmbeddingDim       int    `env:"EMBEDDING_DIM" envDefault:"768"`
	EmbeddingServerURL string `env:"EMBEDDING_SERVER_URL" envDefault:""`

	// Reranker
	RerankerServerURL string `env:"RERANKER_SERVER_URL" envDefault:""`

	// Qdrant
	QdrantURL        string `env:"QDRANT_URL" envDefault:"http://localhost:6333"`
	QdrantCollection string `env:"QDRANT_COLLECTION" envDefault:"documents"`

	// Retrieval / rerank / fusion, per the external interfaces contract
	RetrievalTopK          int `env:"RETRIEVAL_TOP_K" envDefault:"10"`
	RetrievalPrefetchLimit int `env:"RETRIEVAL_PREFETCH_LIMIT" envDefault:"20"`
	RerankTopK             int `env:"RERANK_TOP_K" envDefault:"5"`
	RRFK                   int `env:"RRF_K" envDefault:"60"`

	// Ingestion parity fields — consumed only by the (out-of-scope) ingestion
	// path, surfaced here so deployments share one configuration source.
	ChunkSize    int `env:"CHUNK_SIZE" envDefault:"500"`
	ChunkOverlap int `env:"CHUNK_OVERLAP" envDefault:"100"`

	// Pipeline runtime
	MaxRetries             int           `env:"MAX_RETRIES" envDefault:"3"`
	MaxQueryLength         int           `env:"MAX_QUERY_LENGTH" envDefault:"2000"`
	StrictOutputGuardrails bool          `env:"STRICT_OUTPUT_GUARDRAILS" envDefault:"false"`
	TotalRequestTimeout    time.Duration `env:"TOTAL_REQUEST_TIMEOUT" envDefault:"240s"`

	// Session store
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"1h"`
	SessionMaxHistory    int          `env:"SESSION_MAX_HISTORY" envDefault:"40"`
	CheckpointBackendURL string       `env:"CHECKPOINT_BACKEND_URL" envDefault:""`
}

// Load loads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
