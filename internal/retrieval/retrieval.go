// Package retrieval implements the Retrieval Adapter (C4): dense+lexical
// fusion, same-language boosting, and filter translation ahead of the
// vector backend.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/knoguchi/agentic-rag/internal/embedder"
	"github.com/knoguchi/agentic-rag/internal/langdetect"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// languageBoostFactor multiplies the score of a document whose
// metadata.language matches the detected query language.
const languageBoostFactor = 1.10

// Adapter wraps the embedding and vector-store clients behind the
// Retrieval Adapter's single Retrieve operation.
type Adapter struct {
	embedder   embedder.Embedder
	store      vectorstore.VectorStore
	collection string
}

func NewAdapter(e embedder.Embedder, store vectorstore.VectorStore, collection string) *Adapter {
	return &Adapter{embedder: e, store: store, collection: collection}
}

// Result carries the retrieved documents plus whether the collection
// actually had a lexical index, so the caller can raise the
// "dense-only fallback" warning event.
type Result struct {
	Documents      []vectorstore.Document
	UsedLexical    bool
}

// Retrieve embeds the query, issues one hybrid request, applies the
// same-language boost, and returns the fused, re-sorted documents.
func (a *Adapter) Retrieve(ctx context.Context, query string, filter vectorstore.Filter, topK, prefetchLimit, rrfK int, queryLanguage langdetect.Language) (Result, error) {
	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	hr, err := a.store.HybridSearch(ctx, a.collection, vector, query, filter, topK, prefetchLimit, rrfK)
	if err != nil {
		return Result{}, fmt.Errorf("hybrid search: %w", err)
	}

	docs := applyLanguageBoost(hr.Documents, queryLanguage)
	return Result{Documents: docs, UsedLexical: hr.UsedLexical}, nil
}

// applyLanguageBoost multiplies the retrieval score of documents whose
// metadata language matches the detected query language, then re-sorts
// stably by retrieval score descending. Documents missing a language
// receive no boost.
func applyLanguageBoost(docs []vectorstore.Document, queryLanguage langdetect.Language) []vectorstore.Document {
	out := make([]vectorstore.Document, len(docs))
	copy(out, docs)

	target := string(queryLanguage)
	for i := range out {
		if lang, ok := out[i].Metadata[vectorstore.MetaLanguage]; ok && lang == target {
			out[i].RetrievalScore *= languageBoostFactor
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].RetrievalScore > out[j].RetrievalScore })
	return out
}

// TranslateFilter builds a vectorstore.Filter from a flat request-level
// filter map, supporting equality, `in`-list, and {gte,lte} ranges,
// combined conjunctively across keys.
func TranslateFilter(raw map[string]any) vectorstore.Filter {
	if len(raw) == 0 {
		return nil
	}
	out := make(vectorstore.Filter, len(raw))
	for key, v := range raw {
		switch val := v.(type) {
		case map[string]any:
			cond := vectorstore.FilterCondition{}
			if gte, ok := val["gte"]; ok {
				if f, ok := toFloat(gte); ok {
					cond.Gte = &f
				}
			}
			if lte, ok := val["lte"]; ok {
				if f, ok := toFloat(lte); ok {
					cond.Lte = &f
				}
			}
			out[key] = cond
		case []any:
			out[key] = vectorstore.FilterCondition{In: val}
		default:
			out[key] = vectorstore.FilterCondition{Eq: val}
		}
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
