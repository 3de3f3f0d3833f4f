// Package rewriter implements the Query Rewriter (C8): a single LLM
// call that reformulates a query that failed grading, plus the
// supplemental inferred-filter delta.
package rewriter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/llm"
)

// MaxLengthMultiple bounds how much longer a rewrite may be relative to
// the original query before it's rejected as a runaway expansion.
const MaxLengthMultiple = 2

// Rewriter reformulates queries that failed to surface relevant
// documents.
type Rewriter struct {
	llmClient llm.LLM
	model     string
}

func New(llmClient llm.LLM, model string) *Rewriter {
	return &Rewriter{llmClient: llmClient, model: model}
}

// Result is the outcome of one rewrite attempt.
type Result struct {
	RewrittenQuery   string
	InferredFilters  map[string]any // supplemental: filter deltas the rewrite implies, if any
	Accepted         bool
	RejectionReason  string
}

type rewriteResponse struct {
	RewrittenQuery  string         `json:"rewritten_query"`
	InferredFilters map[string]any `json:"inferred_filters,omitempty"`
}

// Rewrite asks the model for a reformulation, then validates it against
// the non-empty / not-identical / not-runaway-length invariants. A
// rejected rewrite falls back to the original query so the caller can
// still retry retrieval without changing anything.
func (r *Rewriter) Rewrite(ctx context.Context, originalQuery string, priorAnswerWasGeneric bool) (Result, error) {
	prompt := buildRewritePrompt(originalQuery, priorAnswerWasGeneric)
	resp, err := r.llmClient.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.ChatOptions{Model: r.model, Temperature: 0.4, MaxTokens: 512})
	if err != nil {
		return Result{RewrittenQuery: originalQuery, Accepted: false, RejectionReason: "rewrite_call_failed"}, fmt.Errorf("rewrite call failed: %w", err)
	}

	parsed, parseErr := parseRewrite(resp.Text)
	if parseErr != nil {
		return Result{RewrittenQuery: originalQuery, Accepted: false, RejectionReason: "rewrite_parse_failure"}, nil
	}

	candidate := strings.TrimSpace(parsed.RewrittenQuery)
	if candidate == "" {
		return Result{RewrittenQuery: originalQuery, Accepted: false, RejectionReason: "empty_rewrite"}, nil
	}
	if strings.EqualFold(candidate, strings.TrimSpace(originalQuery)) {
		return Result{RewrittenQuery: originalQuery, Accepted: false, RejectionReason: "identical_rewrite"}, nil
	}
	if len(candidate) > len(originalQuery)*MaxLengthMultiple {
		return Result{RewrittenQuery: originalQuery, Accepted: false, RejectionReason: "rewrite_too_long"}, nil
	}

	return Result{
		RewrittenQuery:  candidate,
		InferredFilters: parsed.InferredFilters,
		Accepted:        true,
	}, nil
}

func buildRewritePrompt(query string, wasGeneric bool) string {
	var sb strings.Builder
	sb.WriteString("The following query did not retrieve relevant documents")
	if wasGeneric {
		sb.WriteString(" and produced a generic, unhelpful answer")
	}
	sb.WriteString(". Rewrite it to be more specific and retrievable, expanding abbreviations and adding likely synonyms.\n\n")
	sb.WriteString("Original query: ")
	sb.WriteString(query)
	sb.WriteString(`

If the query implies a document filter (a specific source, date range, or document type), include it as
inferred_filters. Otherwise omit that field.

Output ONLY valid JSON in this exact format:
{"rewritten_query": "...", "inferred_filters": {"source": "..."}}

Output only JSON, no explanation:`)
	return sb.String()
}

func parseRewrite(response string) (rewriteResponse, error) {
	response = stripCodeFence(response)
	var parsed rewriteResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return rewriteResponse{}, fmt.Errorf("parse rewrite response: %w", err)
	}
	return parsed, nil
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
