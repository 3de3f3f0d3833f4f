// Package vectorstore provides the hybrid dense+lexical vector search
// backend contract consumed by the Retrieval Adapter (C4).
package vectorstore

import "context"

// FilterCondition is one predicate against a metadata field: equality,
// membership in a set, or a {gte,lte} numeric range. At most one of
// these should be set; conjunction across multiple keys in a Filter is
// always AND.
type FilterCondition struct {
	Eq  any
	In  []any
	Gte *float64
	Lte *float64
}

// Filter is a conjunction of per-field conditions.
type Filter map[string]FilterCondition

// Document is a retrieved passage together with its scoring state. The
// Score slots are populated progressively by the pipeline (retrieval,
// then rerank, then the mean of the two).
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string

	RetrievalScore float32
	RerankScore    float32
	CombinedScore  float32

	GradingRelevant   bool
	GradingConfidence float64
	GradingReason     string
}

// Reserved metadata keys, per the data model.
const (
	MetaSource      = "source"
	MetaPageNumber  = "page_number"
	MetaLanguage    = "language"
	MetaDocumentID  = "document_id"
	MetaChunkIndex  = "chunk_index"
	MetaFileHash    = "file_hash"
)

// HybridSearchResult reports both the fused documents and whether the
// collection actually carried a lexical index (so the retrieval adapter
// can emit the "dense-only fallback" warning when it didn't).
type HybridSearchResult struct {
	Documents      []Document
	UsedLexical    bool
}

// VectorStore is the hybrid search backend contract the core consumes.
// Writes (Upsert/Delete) belong to the out-of-scope ingestion path but
// are kept here since the core's startup health check exercises
// CollectionExists/EnsureTextIndex.
type VectorStore interface {
	// HybridSearch combines a dense-ANN ranked list with a full-text
	// restricted list, fused by Reciprocal Rank Fusion (parameterised by
	// rrfK).
	// If the collection carries no lexical index, it falls back to
	// dense-only and reports UsedLexical=false.
	HybridSearch(ctx context.Context, collection string, denseVector []float32, textQuery string, filter Filter, topK, prefetchLimit, rrfK int) (HybridSearchResult, error)

	// Search performs a dense-only similarity search.
	Search(ctx context.Context, collection string, denseVector []float32, filter Filter, topK int) ([]Document, error)

	// EnsureTextIndex creates the full-text payload index used by lexical
	// prefetch, idempotently, at startup.
	EnsureTextIndex(ctx context.Context, collection, field string) error

	// CollectionExists reports whether the collection is present, used by
	// the health check.
	CollectionExists(ctx context.Context, collection string) (bool, error)
}
