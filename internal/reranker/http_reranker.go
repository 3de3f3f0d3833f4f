package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/knoguchi/agentic-rag/internal/retryx"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// HTTPReranker calls a dedicated cross-encoder reranker service:
// POST /rerank {query, documents, top_k?} -> [{index, score}] descending.
type HTTPReranker struct {
	baseURL string
	client  *http.Client
}

func NewHTTPReranker(baseURL string, client *http.Client) *HTTPReranker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPReranker{baseURL: baseURL, client: client}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankServiceResult struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

func (r *HTTPReranker) Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	var results []rerankServiceResult
	err := retryx.Do(ctx, func() error {
		r2, err := r.rerankOnce(ctx, query, texts, topK)
		if err != nil {
			return err
		}
		results = r2
		return nil
	})
	if err != nil {
		return applyScores(docs, retrievalScores(docs), topK), err
	}

	scores := make([]float32, len(docs))
	copy(scores, retrievalScores(docs))
	for _, res := range results {
		if res.Index >= 0 && res.Index < len(scores) {
			scores[res.Index] = res.Score
		}
	}
	return applyScores(docs, scores, topK), nil
}

func (r *HTTPReranker) rerankOnce(ctx context.Context, query string, texts []string, topK int) ([]rerankServiceResult, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: texts, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("reranker service error (status %d): %s", resp.StatusCode, string(b))
	}

	var results []rerankServiceResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return results, nil
}

var _ Reranker = (*HTTPReranker)(nil)
