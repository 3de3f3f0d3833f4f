package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/knoguchi/agentic-rag/internal/config"
	"github.com/knoguchi/agentic-rag/internal/generator"
	"github.com/knoguchi/agentic-rag/internal/grader"
	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/pipelineerr"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
	"github.com/knoguchi/agentic-rag/internal/reranker"
	"github.com/knoguchi/agentic-rag/internal/retrieval"
	"github.com/knoguchi/agentic-rag/internal/rewriter"
	"github.com/knoguchi/agentic-rag/internal/session"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// fakeEmbedder and fakeStore back a real *retrieval.Adapter, since
// Runtime depends on the concrete adapter rather than an interface.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	return out, nil
}
func (fakeEmbedder) Dimension() int    { return 3 }
func (fakeEmbedder) ModelName() string { return "fake" }

type fakeStore struct {
	docs []vectorstore.Document
}

func (f fakeStore) HybridSearch(ctx context.Context, collection string, denseVector []float32, textQuery string, filter vectorstore.Filter, topK, prefetchLimit, rrfK int) (vectorstore.HybridSearchResult, error) {
	return vectorstore.HybridSearchResult{Documents: f.docs, UsedLexical: true}, nil
}
func (f fakeStore) Search(ctx context.Context, collection string, denseVector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.Document, error) {
	return f.docs, nil
}
func (fakeStore) EnsureTextIndex(ctx context.Context, collection, field string) error { return nil }
func (fakeStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}

type fakeReranker struct{}

func (fakeReranker) Rerank(ctx context.Context, query string, docs []vectorstore.Document, topK int) ([]vectorstore.Document, error) {
	out := make([]vectorstore.Document, len(docs))
	for i, d := range docs {
		d.RerankScore = 0.9
		d.CombinedScore = 0.9
		out[i] = d
	}
	return out, nil
}

// fakeLLM answers grading calls (MaxTokens 1024) with the test's
// gradeResponse and every other call with genResponse, so the same fake
// serves grader/generator/rewriter.
type fakeLLM struct {
	gradeResponse string
	genResponse   string
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (llm.ChatResponse, error) {
	if f.gradeResponse != "" && opts.MaxTokens == 1024 {
		return llm.ChatResponse{Text: f.gradeResponse}, nil
	}
	return llm.ChatResponse{Text: f.genResponse}, nil
}
func (f *fakeLLM) ChatStream(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func testConfig() *config.Config {
	return &config.Config{
		OllamaLLMModel:         "llama3.1",
		RetrievalTopK:          10,
		RetrievalPrefetchLimit: 20,
		RerankTopK:             5,
		RRFK:                   60,
		MaxRetries:             3,
		MaxQueryLength:         2000,
	}
}

func newTestRuntime(t *testing.T, docs []vectorstore.Document, gradeResponse, genResponse string) *Runtime {
	t.Helper()
	return newTestRuntimeWithStore(t, fakeStore{docs: docs}, gradeResponse, genResponse)
}

func newTestRuntimeWithStore(t *testing.T, store vectorstore.VectorStore, gradeResponse, genResponse string) *Runtime {
	t.Helper()
	cfg := testConfig()
	fake := &fakeLLM{gradeResponse: gradeResponse, genResponse: genResponse}

	retrievalAdapter := retrieval.NewAdapter(fakeEmbedder{}, store, "documents")
	graderImpl := grader.New(fake, cfg.OllamaLLMModel)
	generatorImpl := generator.New(fake, cfg.OllamaLLMModel)
	rewriterImpl := rewriter.New(fake, cfg.OllamaLLMModel)
	sessions := session.NewStore(40, time.Hour, nil)

	return New(cfg, retrievalAdapter, fakeReranker{}, graderImpl, generatorImpl, rewriterImpl, sessions)
}

// cancelingStore cancels the caller's context partway through the first
// HybridSearch call, simulating cancellation arriving while a node's
// external call is in flight.
type cancelingStore struct {
	docs   []vectorstore.Document
	cancel context.CancelFunc
}

func (c cancelingStore) HybridSearch(ctx context.Context, collection string, denseVector []float32, textQuery string, filter vectorstore.Filter, topK, prefetchLimit, rrfK int) (vectorstore.HybridSearchResult, error) {
	c.cancel()
	return vectorstore.HybridSearchResult{Documents: c.docs, UsedLexical: true}, nil
}
func (c cancelingStore) Search(ctx context.Context, collection string, denseVector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.Document, error) {
	return c.docs, nil
}
func (cancelingStore) EnsureTextIndex(ctx context.Context, collection, field string) error {
	return nil
}
func (cancelingStore) CollectionExists(ctx context.Context, collection string) (bool, error) {
	return true, nil
}

func TestRunGreetingShortCircuits(t *testing.T) {
	rt := newTestRuntime(t, nil, "", "should not be called")

	var events []ragmodel.Event
	resp, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "hello"}, func(ev ragmodel.Event) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer == "" {
		t.Fatal("expected a greeting reply")
	}

	generationEvents := 0
	for _, ev := range events {
		if ev.EventType == ragmodel.EventGeneration {
			generationEvents++
		}
	}
	if generationEvents != 1 {
		t.Errorf("expected exactly one terminal generation event, got %d", generationEvents)
	}
}

func TestRunHappyPathProducesAnswer(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "d1", Text: "relevant content about the query", RetrievalScore: 0.9, Metadata: map[string]string{}},
	}
	gradeResponse := `[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "matches"}]`
	rt := newTestRuntime(t, docs, gradeResponse, "Here is the answer [1].")

	resp, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "What does the document say?"}, func(ragmodel.Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer == "" {
		t.Fatal("expected non-empty answer")
	}
	if resp.ThreadID == "" {
		t.Fatal("expected a thread ID to be assigned")
	}
}

func TestRunRetriesUpToMaxRetriesWhenNothingRelevant(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "d1", Text: "irrelevant content", RetrievalScore: 0.5, Metadata: map[string]string{}},
	}
	// Every doc graded not relevant, so the runtime must exhaust the
	// bounded rewrite-and-retry loop rather than looping forever.
	gradeResponse := `[{"doc_id": 0, "relevant": false, "confidence": 0.9, "reason": "no match"}]`

	rt := newTestRuntime(t, docs, gradeResponse, "I don't know based on the available documents.")

	var nodeStarts int
	resp, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "something obscure and specific"}, func(ev ragmodel.Event) {
		if ev.EventType == ragmodel.EventNodeStart && ev.Node == NodeRetrieve {
			nodeStarts++
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodeStarts < 1 || nodeStarts > testConfig().MaxRetries+1 {
		t.Errorf("expected between 1 and MaxRetries+1 retrieve attempts, got %d", nodeStarts)
	}
	if resp.Answer == "" {
		t.Fatal("expected a degraded-but-successful answer")
	}
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	rt := newTestRuntime(t, nil, "", "")

	_, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "   "}, func(ragmodel.Event) {})
	if err == nil {
		t.Fatal("expected error for empty query")
	}
}

func TestRunLowRelevanceFallbackWarnsWhenRetriesExhausted(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "d1", Text: "irrelevant content", RetrievalScore: 0.5, Metadata: map[string]string{}},
	}
	gradeResponse := `[{"doc_id": 0, "relevant": false, "confidence": 0.9, "reason": "no match"}]`
	rt := newTestRuntime(t, docs, gradeResponse, "I don't know based on the available documents.")

	var sawWarningEvent bool
	resp, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "something obscure and specific"}, func(ev ragmodel.Event) {
		if ev.EventType == ragmodel.EventWarning && ev.Data["message"] == "low_relevance_fallback" {
			sawWarningEvent = true
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawWarningEvent {
		t.Error("expected a low_relevance_fallback warning event")
	}

	found := false
	for _, w := range resp.ContextMetadata.Warnings {
		if w == "low_relevance_fallback" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected ContextMetadata.Warnings to contain low_relevance_fallback, got %v", resp.ContextMetadata.Warnings)
	}
}

func TestRunRewriteRejectionContinuesLoopInsteadOfEndingEarly(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "d1", Text: "irrelevant content", RetrievalScore: 0.5, Metadata: map[string]string{}},
	}
	gradeResponse := `[{"doc_id": 0, "relevant": false, "confidence": 0.9, "reason": "no match"}]`
	// genResponse is not valid rewrite JSON, so every rewrite attempt is
	// rejected (parse failure) -- the loop must still run to MaxRetries
	// rather than bailing out after the first rejection.
	rt := newTestRuntime(t, docs, gradeResponse, "not valid rewrite json")

	var retrieveStarts, rewriteStarts int
	_, err := rt.Run(context.Background(), ragmodel.QueryRequest{Query: "something obscure"}, func(ev ragmodel.Event) {
		if ev.EventType == ragmodel.EventNodeStart && ev.Node == NodeRetrieve {
			retrieveStarts++
		}
		if ev.EventType == ragmodel.EventNodeStart && ev.Node == NodeRewriteQuery {
			rewriteStarts++
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantRetries := testConfig().MaxRetries
	if retrieveStarts != wantRetries+1 {
		t.Errorf("expected %d retrieve attempts (1 initial + %d retries), got %d", wantRetries+1, wantRetries, retrieveStarts)
	}
	if rewriteStarts != wantRetries {
		t.Errorf("expected %d rewrite attempts, got %d", wantRetries, rewriteStarts)
	}
}

func TestRunRejectsAlreadyCancelledContext(t *testing.T) {
	rt := newTestRuntime(t, nil, "", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rt.Run(ctx, ragmodel.QueryRequest{ThreadID: "cancel-thread", Query: "hello world query"}, func(ragmodel.Event) {})
	if err == nil {
		t.Fatal("expected an error for an already-cancelled context")
	}
	pe, ok := err.(*pipelineerr.Error)
	if !ok {
		t.Fatalf("expected *pipelineerr.Error, got %T", err)
	}
	if pe.Category != pipelineerr.CategoryCancelled {
		t.Errorf("expected category cancelled, got %q", pe.Category)
	}

	if _, ok := rt.sessions.Load("cancel-thread"); ok {
		t.Error("expected no session state to be created for a request cancelled before it started")
	}
}

func TestRunCancelledDuringRetrieveStopsWithoutMutatingSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := cancelingStore{
		docs:   []vectorstore.Document{{ID: "d1", Text: "content", Metadata: map[string]string{}}},
		cancel: cancel,
	}
	gradeResponse := `[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "matches"}]`
	rt := newTestRuntimeWithStore(t, store, gradeResponse, "answer [1]")

	_, err := rt.Run(ctx, ragmodel.QueryRequest{ThreadID: "cancel-mid-thread", Query: "explain this document"}, func(ragmodel.Event) {})
	if err == nil {
		t.Fatal("expected an error when the context is cancelled mid-retrieve")
	}
	pe, ok := err.(*pipelineerr.Error)
	if !ok {
		t.Fatalf("expected *pipelineerr.Error, got %T", err)
	}
	if pe.Category != pipelineerr.CategoryCancelled {
		t.Errorf("expected category cancelled, got %q", pe.Category)
	}

	state, ok := rt.sessions.Load("cancel-mid-thread")
	if ok && len(state.Messages) != 0 {
		t.Errorf("expected no messages persisted for a cancelled request, got %d", len(state.Messages))
	}
}

func TestRunPersistsSessionHistory(t *testing.T) {
	docs := []vectorstore.Document{
		{ID: "d1", Text: "relevant content", RetrievalScore: 0.9, Metadata: map[string]string{}},
	}
	gradeResponse := `[{"doc_id": 0, "relevant": true, "confidence": 0.9, "reason": "matches"}]`
	rt := newTestRuntime(t, docs, gradeResponse, "The answer is here [1].")

	resp, err := rt.Run(context.Background(), ragmodel.QueryRequest{ThreadID: "fixed-thread", Query: "explain this"}, func(ragmodel.Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok := rt.sessions.Load(resp.ThreadID)
	if !ok {
		t.Fatal("expected session to be persisted")
	}
	if len(state.Messages) != 2 {
		t.Errorf("expected one user/assistant pair persisted, got %d messages", len(state.Messages))
	}
}
