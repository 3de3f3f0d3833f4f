package embedder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPModelEmbedderEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Texts) != 1 || req.Texts[0] != "hello" {
			t.Errorf("unexpected request texts: %v", req.Texts)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Vectors: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer server.Close()

	e := NewHTTPModelEmbedder(server.URL, "test-model", 3, server.Client())
	vec, err := e.Embed(t.Context(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(vec))
	}
}

func TestHTTPModelEmbedderEmbedBatchMismatchedCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Vectors: [][]float32{{0.1}}})
	}))
	defer server.Close()

	e := NewHTTPModelEmbedder(server.URL, "test-model", 1, server.Client())
	_, err := e.EmbedBatch(t.Context(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error when vector count doesn't match text count")
	}
}

func TestHTTPModelEmbedderEmbedBatchEmpty(t *testing.T) {
	e := NewHTTPModelEmbedder("http://unused", "test-model", 1, nil)
	vectors, err := e.EmbedBatch(t.Context(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 0 {
		t.Errorf("expected empty result, got %v", vectors)
	}
}

func TestHTTPModelEmbedderDimensionAndModelName(t *testing.T) {
	e := NewHTTPModelEmbedder("http://unused", "custom-model", 768, nil)
	if e.Dimension() != 768 {
		t.Errorf("Dimension() = %d, want 768", e.Dimension())
	}
	if e.ModelName() != "custom-model" {
		t.Errorf("ModelName() = %q, want custom-model", e.ModelName())
	}
}
