package reranker

import (
	"testing"

	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

func TestApplyScoresSortsAndTruncates(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "a", RetrievalScore: 0.9},
		{ID: "b", RetrievalScore: 0.5},
		{ID: "c", RetrievalScore: 0.7},
	}
	scores := []float32{0.2, 0.95, 0.5}

	out := applyScores(docs, scores, 2)

	if len(out) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(out))
	}
	if out[0].ID != "b" || out[1].ID != "c" {
		t.Errorf("expected order [b, c] by rerank score desc, got [%s, %s]", out[0].ID, out[1].ID)
	}
}

func TestApplyScoresComputesCombinedMean(t *testing.T) {
	docs := []vectorstore.Document{{ID: "a", RetrievalScore: 0.8}}
	out := applyScores(docs, []float32{0.4}, 0)

	want := float32(0.6)
	if out[0].CombinedScore != want {
		t.Errorf("expected combined score %v, got %v", want, out[0].CombinedScore)
	}
}

func TestApplyScoresZeroTopKKeepsAll(t *testing.T) {
	docs := []vectorstore.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	out := applyScores(docs, []float32{0.1, 0.2, 0.3}, 0)
	if len(out) != 3 {
		t.Errorf("expected all 3 documents kept, got %d", len(out))
	}
}
