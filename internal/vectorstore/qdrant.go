package vectorstore

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/knoguchi/agentic-rag/internal/retryx"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore implements VectorStore over dense-ANN search, fused with a
// lexical-filtered search client-side via Reciprocal Rank Fusion (Qdrant's
// own query-fusion mode takes no k parameter, so RRF_K is applied here
// instead), adapted from a per-tenant multi-collection design down to the
// single-collection shape this pipeline needs.
type QdrantStore struct {
	client *qdrant.Client

	// lexicalAvailable tracks whether EnsureTextIndex succeeded for the
	// collection currently in use; HybridSearch consults it to decide
	// whether to include the full-text prefetch branch at all, instead of
	// discovering the absence on every request.
	lexicalAvailable atomic.Bool
}

// NewQdrantStore creates a new Qdrant client. url is "host:port".
func NewQdrantStore(ctx context.Context, url string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }

// EnsureTextIndex creates the full-text payload index idempotently,
// swallowing every failure. It marks the lexical index available for
// HybridSearch only when the create call succeeds; any error, including
// one for an index that already exists, leaves HybridSearch dense-only.
func (s *QdrantStore) EnsureTextIndex(ctx context.Context, collection, field string) error {
	_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: collection,
		FieldName:      field,
		FieldType:      qdrant.FieldType_FieldTypeText.Enum(),
	})
	if err != nil {
		// Best-effort: an index that already exists (or a collection not
		// yet created by ingestion) just means retrieval runs dense-only.
		s.lexicalAvailable.Store(false)
		return nil
	}
	s.lexicalAvailable.Store(true)
	return nil
}

func (s *QdrantStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("check collection existence: %w", err)
	}
	return exists, nil
}

// Search performs a dense-only similarity search.
func (s *QdrantStore) Search(ctx context.Context, collection string, denseVector []float32, filter Filter, topK int) ([]Document, error) {
	var docs []Document
	err := retryx.Do(ctx, func() error {
		d, err := s.searchOnce(ctx, collection, denseVector, filter, topK)
		if err != nil {
			return err
		}
		docs = d
		return nil
	})
	return docs, err
}

func (s *QdrantStore) searchOnce(ctx context.Context, collection string, denseVector []float32, filter Filter, topK int) ([]Document, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(denseVector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if qf := toQdrantFilter(filter); qf != nil {
		req.Filter = qf
	}

	response, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return toDocuments(response), nil
}

// HybridSearch runs a dense-ANN ranked list and, when a lexical index is
// available, a second list restricted to full-text matches, then fuses
// the two client-side with Reciprocal Rank Fusion at the configured k.
func (s *QdrantStore) HybridSearch(ctx context.Context, collection string, denseVector []float32, textQuery string, filter Filter, topK, prefetchLimit, rrfK int) (HybridSearchResult, error) {
	var out HybridSearchResult
	err := retryx.Do(ctx, func() error {
		r, err := s.hybridSearchOnce(ctx, collection, denseVector, textQuery, filter, topK, prefetchLimit, rrfK)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *QdrantStore) hybridSearchOnce(ctx context.Context, collection string, denseVector []float32, textQuery string, filter Filter, topK, prefetchLimit, rrfK int) (HybridSearchResult, error) {
	qf := toQdrantFilter(filter)

	denseDocs, err := s.queryRanked(ctx, collection, denseVector, qf, prefetchLimit)
	if err != nil {
		return HybridSearchResult{}, fmt.Errorf("hybrid search: %w", err)
	}

	usedLexical := s.lexicalAvailable.Load() && textQuery != ""
	if !usedLexical {
		return HybridSearchResult{Documents: truncate(denseDocs, topK), UsedLexical: false}, nil
	}

	textFilter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatchText("content", textQuery)}}
	if qf != nil {
		textFilter.Must = append(textFilter.Must, qf.Must...)
	}

	lexicalDocs, err := s.queryRanked(ctx, collection, denseVector, textFilter, prefetchLimit)
	if err != nil {
		// The lexical branch itself is what failed (missing index on a
		// collection we hadn't confirmed) -- degrade to the dense-only
		// list we already have rather than surfacing retrieval_unavailable.
		s.lexicalAvailable.Store(false)
		return HybridSearchResult{Documents: truncate(denseDocs, topK), UsedLexical: false}, nil
	}

	fused := fuseRRF(rrfK, denseDocs, lexicalDocs)
	return HybridSearchResult{Documents: truncate(fused, topK), UsedLexical: true}, nil
}

// queryRanked runs a single dense-vector-ordered query restricted to
// filter, used both for the plain dense branch and for the lexical
// branch (dense-ranked within the full-text-matched subset).
func (s *QdrantStore) queryRanked(ctx context.Context, collection string, denseVector []float32, filter *qdrant.Filter, limit int) ([]Document, error) {
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(denseVector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		req.Filter = filter
	}
	response, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return toDocuments(response), nil
}

// fuseRRF combines ranked document lists with Reciprocal Rank Fusion:
// each document's score is the sum of 1/(k+rank+1) across every list it
// appears in (rank is 0-based), and the merged set is sorted by that
// score descending. A document missing from a list simply contributes
// nothing for that list.
func fuseRRF(k int, lists ...[]Document) []Document {
	scores := make(map[string]float64)
	byID := make(map[string]Document)
	order := make([]string, 0)
	for _, list := range lists {
		for rank, doc := range list {
			if _, seen := byID[doc.ID]; !seen {
				order = append(order, doc.ID)
				byID[doc.ID] = doc
			}
			scores[doc.ID] += 1.0 / float64(k+rank+1)
		}
	}

	fused := make([]Document, 0, len(order))
	for _, id := range order {
		doc := byID[id]
		doc.RetrievalScore = float32(scores[id])
		fused = append(fused, doc)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].RetrievalScore > fused[j].RetrievalScore
	})
	return fused
}

func truncate(docs []Document, n int) []Document {
	if n < 0 || n > len(docs) {
		return docs
	}
	return docs[:n]
}

func toDocuments(points []*qdrant.ScoredPoint) []Document {
	docs := make([]Document, 0, len(points))
	for _, point := range points {
		doc := Document{
			ID:             pointID(point.Id),
			RetrievalScore: point.Score,
			Metadata:       make(map[string]string),
		}
		if payload := point.Payload; payload != nil {
			if content, ok := payload["content"]; ok {
				doc.Text = content.GetStringValue()
			}
			for k, v := range payload {
				if k != "content" {
					doc.Metadata[k] = v.GetStringValue()
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

// toQdrantFilter translates the adapter-neutral Filter into Qdrant's
// predicate schema: equality -> MatchValue, in-list -> MatchAny,
// {gte,lte} -> Range, all conjoined with Must.
func toQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}

	conditions := make([]*qdrant.Condition, 0, len(filter))
	for field, cond := range filter {
		switch {
		case cond.Eq != nil:
			conditions = append(conditions, matchCondition(field, cond.Eq))
		case len(cond.In) > 0:
			conditions = append(conditions, matchAnyCondition(field, cond.In))
		case cond.Gte != nil || cond.Lte != nil:
			r := &qdrant.Range{}
			if cond.Gte != nil {
				r.Gte = cond.Gte
			}
			if cond.Lte != nil {
				r.Lte = cond.Lte
			}
			conditions = append(conditions, qdrant.NewRange(field, r))
		}
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func matchCondition(field string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(field, v)
	case int:
		return qdrant.NewMatchInt(field, int64(v))
	case int64:
		return qdrant.NewMatchInt(field, v)
	case float64:
		return qdrant.NewMatch(field, fmt.Sprintf("%v", v))
	default:
		return qdrant.NewMatch(field, fmt.Sprintf("%v", v))
	}
}

func matchAnyCondition(field string, values []any) *qdrant.Condition {
	strs := make([]string, len(values))
	for i, v := range values {
		strs[i] = fmt.Sprintf("%v", v)
	}
	return qdrant.NewMatchKeywords(field, strs...)
}

var _ VectorStore = (*QdrantStore)(nil)
