package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestToQdrantFilterEmptyReturnsNil(t *testing.T) {
	if got := toQdrantFilter(nil); got != nil {
		t.Errorf("expected nil filter, got %+v", got)
	}
}

func TestToQdrantFilterBuildsConditionsForEachShape(t *testing.T) {
	gte := 0.5
	filter := Filter{
		"language": FilterCondition{Eq: "en"},
		"tags":     FilterCondition{In: []any{"a", "b"}},
		"score":    FilterCondition{Gte: &gte},
	}

	got := toQdrantFilter(filter)
	if got == nil {
		t.Fatal("expected non-nil filter")
	}
	if len(got.Must) != 3 {
		t.Errorf("expected 3 conditions, got %d", len(got.Must))
	}
}

func TestToQdrantFilterSkipsEmptyConditions(t *testing.T) {
	filter := Filter{"unused": FilterCondition{}}
	if got := toQdrantFilter(filter); got != nil {
		t.Errorf("expected nil filter when no condition fields are set, got %+v", got)
	}
}

func TestPointIDPrefersUUID(t *testing.T) {
	id := &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: "abc-123"}}
	if got := pointID(id); got != "abc-123" {
		t.Errorf("got %q, want abc-123", got)
	}
}

func TestPointIDFallsBackToNum(t *testing.T) {
	id := &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: 42}}
	if got := pointID(id); got != "42" {
		t.Errorf("got %q, want 42", got)
	}
}

func TestPointIDNilReturnsEmpty(t *testing.T) {
	if got := pointID(nil); got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}

func TestToDocumentsExtractsContentAndMetadata(t *testing.T) {
	points := []*qdrant.ScoredPoint{
		{
			Id:    &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: "doc-1"}},
			Score: 0.87,
			Payload: map[string]*qdrant.Value{
				"content":  {Kind: &qdrant.Value_StringValue{StringValue: "some text"}},
				"language": {Kind: &qdrant.Value_StringValue{StringValue: "en"}},
			},
		},
	}

	docs := toDocuments(points)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if docs[0].ID != "doc-1" || docs[0].Text != "some text" || docs[0].RetrievalScore != 0.87 {
		t.Errorf("unexpected document: %+v", docs[0])
	}
	if docs[0].Metadata["language"] != "en" {
		t.Errorf("expected metadata language=en, got %+v", docs[0].Metadata)
	}
	if _, ok := docs[0].Metadata["content"]; ok {
		t.Error("content should not be duplicated into metadata")
	}
}

func TestMatchConditionHandlesTypes(t *testing.T) {
	if c := matchCondition("field", "value"); c == nil {
		t.Error("expected non-nil condition for string value")
	}
	if c := matchCondition("field", 5); c == nil {
		t.Error("expected non-nil condition for int value")
	}
	if c := matchCondition("field", int64(5)); c == nil {
		t.Error("expected non-nil condition for int64 value")
	}
}

func TestMatchAnyConditionStringifiesValues(t *testing.T) {
	if c := matchAnyCondition("tags", []any{"a", 1}); c == nil {
		t.Error("expected non-nil condition")
	}
}

func TestFuseRRFRanksDocumentInBothListsAboveSingleList(t *testing.T) {
	dense := []Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	lexical := []Document{{ID: "c"}, {ID: "d"}}

	fused := fuseRRF(60, dense, lexical)

	if len(fused) != 4 {
		t.Fatalf("expected 4 distinct documents, got %d", len(fused))
	}
	if fused[0].ID != "c" {
		t.Errorf("expected doc present in both lists to rank first, got %q", fused[0].ID)
	}
}

func TestFuseRRFScoreUsesConfiguredK(t *testing.T) {
	dense := []Document{{ID: "a"}}

	lowK := fuseRRF(1, dense)
	highK := fuseRRF(60, dense)

	if lowK[0].RetrievalScore <= highK[0].RetrievalScore {
		t.Errorf("expected smaller k to produce a larger score: k=1 got %v, k=60 got %v", lowK[0].RetrievalScore, highK[0].RetrievalScore)
	}
}

func TestFuseRRFEmptyListsReturnsEmpty(t *testing.T) {
	if fused := fuseRRF(60); len(fused) != 0 {
		t.Errorf("expected empty result for no lists, got %+v", fused)
	}
}

func TestTruncateShortensWhenLonger(t *testing.T) {
	docs := []Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	if got := truncate(docs, 2); len(got) != 2 {
		t.Errorf("expected 2 documents, got %d", len(got))
	}
}

func TestTruncateLeavesShorterSliceUnchanged(t *testing.T) {
	docs := []Document{{ID: "a"}}
	if got := truncate(docs, 5); len(got) != 1 {
		t.Errorf("expected unchanged slice of 1, got %d", len(got))
	}
}
