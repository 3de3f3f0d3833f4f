package grader

import (
	"context"
	"testing"

	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	if f.err != nil {
		return llm.ChatResponse{}, f.err
	}
	return llm.ChatResponse{Text: f.response}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func docs(n int) []vectorstore.Document {
	out := make([]vectorstore.Document, n)
	for i := range out {
		out[i] = vectorstore.Document{ID: "doc", Text: "some content"}
	}
	return out
}

func TestGradeKeepsAboveThreshold(t *testing.T) {
	fake := &fakeLLM{response: `[
		{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "matches"},
		{"doc_id": 1, "relevant": false, "confidence": 0.2, "reason": "unrelated"}
	]`}
	g := New(fake, "test-model")

	result, err := g.Grade(context.Background(), "query", docs(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Kept) != 1 {
		t.Fatalf("expected 1 kept document, got %d", len(result.Kept))
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", result.Warnings)
	}
}

func TestGradeFallsBackOnParseFailure(t *testing.T) {
	fake := &fakeLLM{response: "not valid json at all"}
	g := New(fake, "test-model")

	result, err := g.Grade(context.Background(), "query", docs(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Kept) != 2 {
		t.Fatalf("expected recall-preserving fallback to keep all docs, got %d", len(result.Kept))
	}
	if len(result.Warnings) != 1 || result.Warnings[0] != ParseFailureWarning {
		t.Errorf("expected %q warning, got %v", ParseFailureWarning, result.Warnings)
	}
	for _, d := range result.Kept {
		if d.GradingConfidence != 0.5 {
			t.Errorf("expected fallback confidence 0.5, got %v", d.GradingConfidence)
		}
	}
}

func TestGradeEmptyDocsIsNoOp(t *testing.T) {
	fake := &fakeLLM{response: "unused"}
	g := New(fake, "test-model")

	result, err := g.Grade(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Graded) != 0 {
		t.Errorf("expected no graded documents, got %d", len(result.Graded))
	}
}

func TestParseGradesHandlesCodeFence(t *testing.T) {
	response := "```json\n[{\"doc_id\": 0, \"relevant\": true, \"confidence\": 0.8, \"reason\": \"ok\"}]\n```"
	grades, err := parseGrades(response, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !grades[0].Relevant || grades[0].Confidence != 0.8 {
		t.Errorf("unexpected grade: %+v", grades[0])
	}
}
