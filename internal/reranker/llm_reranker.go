package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// LLMReranker uses a chat model to re-score query-document pairs,
// emulating a cross-encoder by letting the model see both query and
// document together.
type LLMReranker struct {
	llmClient llm.LLM
	model     string
}

type LLMRerankerOption func(*LLMReranker)

func WithModel(model string) LLMRerankerOption {
	return func(r *LLMReranker) { r.model = model }
}

func NewLLMReranker(llmClient llm.LLM, opts ...LLMRerankerOption) *LLMReranker {
	r := &LLMReranker{llmClient: llmClient, model: "llama3.1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
	Reason   string  `json:"reason,omitempty"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Rerank scores every document in a single round-trip. A failed LLM call
// returns the retrieval-score order together with an error, on which the
// caller (the Pipeline Runtime) raises a warning. A response that fails to
// parse also falls back to the retrieval scores but returns a nil error,
// so no warning is raised for it.
func (r *LLMReranker) Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(docs) {
		topK = len(docs)
	}

	prompt := buildRerankPrompt(query, docs)
	resp, err := r.llmClient.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.ChatOptions{Model: r.model, Temperature: 0.0, MaxTokens: 1024})
	if err != nil {
		return applyScores(docs, retrievalScores(docs), topK), fmt.Errorf("llm rerank call failed: %w", err)
	}

	scores, err := parseRerankResponse(resp.Text, len(docs))
	if err != nil {
		return applyScores(docs, retrievalScores(docs), topK), nil
	}

	return applyScores(docs, scores, topK), nil
}

func retrievalScores(docs []vectorstore.Document) []float32 {
	scores := make([]float32, len(docs))
	for i, d := range docs {
		scores[i] = d.RetrievalScore
	}
	return scores
}

func buildRerankPrompt(query string, docs []vectorstore.Document) string {
	var sb strings.Builder
	sb.WriteString("You are a relevance scoring system. Score each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments to score:\n")

	for i, d := range docs {
		content := d.Text
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n\n", i, content)
	}

	sb.WriteString(`Score each document from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}]}

Be strict: irrelevant documents should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.
Output only JSON, no explanation:`)

	return sb.String()
}

func parseRerankResponse(response string, numDocs int) ([]float32, error) {
	response = stripCodeFence(response)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("parse rerank response: %w", err)
	}

	scores := make([]float32, numDocs)
	for i := range scores {
		scores[i] = 0.5
	}
	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numDocs {
			continue
		}
		score := s.Score
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		scores[s.DocIndex] = score
	}
	return scores, nil
}

func stripCodeFence(response string) string {
	response = strings.TrimSpace(response)
	if idx := strings.Index(response, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	} else if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}
	return response
}

var _ Reranker = (*LLMReranker)(nil)
