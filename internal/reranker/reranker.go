// Package reranker sends retrieved passages through a cross-encoder-style
// scorer and folds the result back into each Document's rerank/combined
// scores.
//
// # Trade-offs
//
//   - Latency: adds a full round-trip (LLM call or dedicated model server)
//   - Quality: materially better relevance when vector scores cluster tightly
//   - Cost: either an extra LLM call's worth of tokens, or a model-server hop
package reranker

import (
	"context"
	"sort"

	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// Reranker scores (query, document) pairs and assigns RerankScore and
// CombinedScore, returning the top topK sorted by RerankScore descending.
type Reranker interface {
	Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.Document, error)
}

// applyScores assigns rerank/combined scores from a 0-indexed score slice
// (aligned with docs) and truncates to topK, shared by every concrete
// Reranker so the sort/truncate/combine step isn't duplicated per
// implementation.
func applyScores(docs []vectorstore.Document, scores []float32, topK int) []vectorstore.Document {
	out := make([]vectorstore.Document, len(docs))
	copy(out, docs)
	for i := range out {
		if i < len(scores) {
			out[i].RerankScore = scores[i]
		}
		out[i].CombinedScore = (out[i].RetrievalScore + out[i].RerankScore) / 2
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RerankScore > out[j].RerankScore })

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
