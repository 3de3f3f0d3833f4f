package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/knoguchi/agentic-rag/internal/retryx"
)

// HTTPModelEmbedder implements Embedder against a dedicated embedding
// model server speaking the contract `POST /embed {texts} -> {vectors}`
// (spec §6), distinct from the Ollama-specific wire format.
type HTTPModelEmbedder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewHTTPModelEmbedder constructs a client for a standalone embedding
// model server.
func NewHTTPModelEmbedder(baseURL, model string, dimension int, client *http.Client) *HTTPModelEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPModelEmbedder{baseURL: baseURL, model: model, dimension: dimension, client: client}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed generates a single embedding vector via the batch endpoint.
func (e *HTTPModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embedding server returned no vectors")
	}
	return vectors[0], nil
}

// EmbedBatch posts all texts in a single request and returns vectors in
// the same order, retrying the round-trip with jittered backoff.
func (e *HTTPModelEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var vectors [][]float32
	err := retryx.Do(ctx, func() error {
		v, err := e.embedBatchOnce(ctx, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d texts", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *HTTPModelEmbedder) embedBatchOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding server error (status %d): %s", resp.StatusCode, string(b))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Vectors, nil
}

func (e *HTTPModelEmbedder) Dimension() int   { return e.dimension }
func (e *HTTPModelEmbedder) ModelName() string { return e.model }

var _ Embedder = (*HTTPModelEmbedder)(nil)
