// Package grader implements the batch LLM relevance grader (C6): a
// single round-trip JSON protocol with a confidence filter and a
// recall-preserving fallback on parse failure.
package grader

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// ConfidenceThreshold is the minimum grading_confidence required to keep
// a document.
const ConfidenceThreshold = 0.5

// ParseFailureWarning is the warning recorded when the grader's JSON
// output could not be parsed and the recall-preserving fallback engaged.
const ParseFailureWarning = "grader_parse_failure"

type docGrade struct {
	DocID      int     `json:"doc_id"`
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Result is the outcome of a grading pass.
type Result struct {
	Graded   []vectorstore.Document // all input documents, annotated
	Kept     []vectorstore.Document // the subset passing the confidence filter
	Warnings []string
}

// Grader grades reranked documents against a query in one LLM round-trip.
type Grader struct {
	llmClient llm.LLM
	model     string
}

func New(llmClient llm.LLM, model string) *Grader {
	return &Grader{llmClient: llmClient, model: model}
}

// Grade sends all documents in a single prompt and parses a JSON array
// response. On parse failure, every document is treated as relevant with
// confidence 0.5 — the explicit, documented recall-preserving policy
// spec.md adopts for this resolved open question (the alternative,
// treat-none-as-relevant, is not used).
func (g *Grader) Grade(ctx context.Context, query string, docs []vectorstore.Document) (Result, error) {
	if len(docs) == 0 {
		return Result{}, nil
	}

	prompt := buildGradingPrompt(query, docs)
	resp, err := g.llmClient.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, llm.ChatOptions{Model: g.model, Temperature: 0.0, MaxTokens: 1024})
	if err != nil {
		return Result{}, fmt.Errorf("grading call failed: %w", err)
	}

	grades, parseErr := parseGrades(resp.Text, len(docs))

	graded := make([]vectorstore.Document, len(docs))
	copy(graded, docs)

	var warnings []string
	if parseErr != nil {
		warnings = append(warnings, ParseFailureWarning)
		for i := range graded {
			graded[i].GradingRelevant = true
			graded[i].GradingConfidence = 0.5
			graded[i].GradingReason = "parse_failure_fallback"
		}
	} else {
		for i := range graded {
			graded[i].GradingRelevant = grades[i].Relevant
			graded[i].GradingConfidence = grades[i].Confidence
			graded[i].GradingReason = grades[i].Reason
		}
	}

	var kept []vectorstore.Document
	for _, d := range graded {
		if d.GradingRelevant && d.GradingConfidence >= ConfidenceThreshold {
			kept = append(kept, d)
		}
	}

	return Result{Graded: graded, Kept: kept, Warnings: warnings}, nil
}

func buildGradingPrompt(query string, docs []vectorstore.Document) string {
	var sb strings.Builder
	sb.WriteString("You are a document relevance grader. Grade each document's relevance to the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\nDocuments:\n")

	for i, d := range docs {
		content := d.Text
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		fmt.Fprintf(&sb, "[doc_id %d]: %s\n\n", i, content)
	}

	sb.WriteString(`Output ONLY a valid JSON array, one element per document, in this exact format:
[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "directly answers the query"}]

relevant is true only if the document helps answer the query. confidence is in [0,1].
Output only the JSON array, no explanation:`)

	return sb.String()
}

func parseGrades(response string, numDocs int) ([]docGrade, error) {
	response = stripCodeFence(response)

	var parsed []docGrade
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("parse grading response: %w", err)
	}

	out := make([]docGrade, numDocs)
	for i := range out {
		out[i] = docGrade{DocID: i, Relevant: false, Confidence: 0, Reason: "missing"}
	}
	for _, g := range parsed {
		if g.DocID >= 0 && g.DocID < numDocs {
			out[g.DocID] = g
		}
	}
	return out, nil
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
