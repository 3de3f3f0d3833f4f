// Package pipeline implements the Pipeline Runtime (C9): the finite
// state machine that drives a query through validation, retrieval,
// reranking, grading, generation (or a bounded rewrite-and-retry loop),
// and output validation.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/knoguchi/agentic-rag/internal/config"
	"github.com/knoguchi/agentic-rag/internal/generator"
	"github.com/knoguchi/agentic-rag/internal/grader"
	"github.com/knoguchi/agentic-rag/internal/guardrail"
	"github.com/knoguchi/agentic-rag/internal/langdetect"
	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/pipelineerr"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
	"github.com/knoguchi/agentic-rag/internal/reranker"
	"github.com/knoguchi/agentic-rag/internal/retrieval"
	"github.com/knoguchi/agentic-rag/internal/rewriter"
	"github.com/knoguchi/agentic-rag/internal/session"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// Node names used on node_start/node_end events. These are the
// vocabulary a client-side progress UI keys off, so they're stable and
// exported.
const (
	NodeIntentClassify = "intent_classify"
	NodeValidateInput  = "validate_input"
	NodeRetrieve       = "retrieve"
	NodeRerank         = "rerank"
	NodeGrade          = "grade"
	NodeRewriteQuery   = "rewrite_query"
	NodeGenerate       = "generate"
	NodeValidateOutput = "validate_output"
)

// EmitFunc receives every event the runtime raises, in order, for one
// invocation. It must not block for long; callers that stream to a
// client should buffer internally.
type EmitFunc func(ragmodel.Event)

// Runtime wires every pipeline stage behind the single Run entry point.
type Runtime struct {
	cfg       *config.Config
	retrieval *retrieval.Adapter
	reranker  reranker.Reranker
	grader    *grader.Grader
	generator *generator.Generator
	rewriterC *rewriter.Rewriter
	sessions  *session.Store
	llmModel  string
}

// New assembles a Runtime from its component dependencies.
func New(cfg *config.Config, retrievalAdapter *retrieval.Adapter, rr reranker.Reranker, gr *grader.Grader, gen *generator.Generator, rw *rewriter.Rewriter, sessions *session.Store) *Runtime {
	return &Runtime{
		cfg:       cfg,
		retrieval: retrievalAdapter,
		reranker:  rr,
		grader:    gr,
		generator: gen,
		rewriterC: rw,
		sessions:  sessions,
		llmModel:  cfg.OllamaLLMModel,
	}
}

// greetingWords short-circuits INTENT_CLASSIFY straight to a canned
// reply, skipping retrieval entirely — the supplemental fast path.
var greetingWords = []string{"hello", "hi", "hey", "thanks", "thank you", "good morning", "good evening"}

func isGreeting(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if len(q) > 40 {
		return false
	}
	for _, g := range greetingWords {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+"!") {
			return true
		}
	}
	return false
}

func nodeStart(emit EmitFunc, node string) {
	emit(ragmodel.Event{EventType: ragmodel.EventNodeStart, Node: node, Timestamp: time.Now().Unix()})
}

func nodeEnd(emit EmitFunc, node string) {
	emit(ragmodel.Event{EventType: ragmodel.EventNodeEnd, Node: node, Timestamp: time.Now().Unix()})
}

func warn(emit EmitFunc, node, message string) {
	emit(ragmodel.Event{
		EventType: ragmodel.EventWarning,
		Node:      node,
		Timestamp: time.Now().Unix(),
		Data:      map[string]any{"message": message},
	})
}

// cancelledCheck reports a context.Context that has already been
// cancelled or deadline-exceeded as a categorised pipeline error, so
// callers can bail out before starting a node rather than discovering
// the cancellation partway through it.
func cancelledCheck(ctx context.Context, node string) *pipelineerr.Error {
	if ctx.Err() != nil {
		return pipelineerr.New(pipelineerr.CategoryCancelled, "request cancelled").WithReason(node)
	}
	return nil
}

// wrapNodeError categorises a node failure, preferring "cancelled" over
// the node's own failure category whenever the context was the actual
// cause — a dependency call returning context.Canceled is cancellation,
// not a dependency outage.
func wrapNodeError(ctx context.Context, node string, category pipelineerr.Category, message string, err error) *pipelineerr.Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return pipelineerr.Wrap(pipelineerr.CategoryCancelled, message, err).WithReason(node)
	}
	return pipelineerr.Wrap(category, message, err)
}

func fail(emit EmitFunc, node string, err error) {
	category := pipelineerr.CategoryInternal
	reason := ""
	if pe, ok := err.(*pipelineerr.Error); ok {
		category = pe.Category
		reason = pe.Reason
	}
	emit(ragmodel.Event{
		EventType: ragmodel.EventError,
		Node:      node,
		Timestamp: time.Now().Unix(),
		Data: map[string]any{
			"category": string(category),
			"reason":   reason,
			"message":  err.Error(),
		},
	})
}

// Run drives one query through the full state machine, emitting events
// as it goes and returning the terminal response. Exactly one of
// (response, error) determines whether the terminal event was a
// "generation" or an "error" event. Run returns an error for a
// guardrail_input rejection, for cancellation, for a failed retrieval
// (retrieval_unavailable), and for a failed grading or generation call
// (llm_unavailable). A degraded rerank, a rejected rewrite and exhausted
// retries only add warnings to an otherwise successful response.
func (rt *Runtime) Run(ctx context.Context, req ragmodel.QueryRequest, emit EmitFunc) (ragmodel.QueryResponse, error) {
	if cerr := cancelledCheck(ctx, NodeIntentClassify); cerr != nil {
		fail(emit, NodeIntentClassify, cerr)
		return ragmodel.QueryResponse{}, cerr
	}

	rc := req.Context.Normalized()

	threadID := req.ThreadID
	st, existed := rt.sessions.Load(threadID)
	if !existed {
		st = rt.sessions.Create(threadID)
		emit(ragmodel.Event{EventType: ragmodel.EventThreadCreated, Timestamp: time.Now().Unix(), Data: map[string]any{"thread_id": st.ThreadID}})
	}
	threadID = st.ThreadID

	nodeStart(emit, NodeIntentClassify)
	greeting := isGreeting(req.Query)
	nodeEnd(emit, NodeIntentClassify)

	if greeting {
		answer := greetingReply(rc.LanguagePreference)
		rt.sessions.Append(threadID,
			session.Message{Role: "user", Content: req.Query},
			session.Message{Role: "assistant", Content: answer},
		)
		metadata := ragmodel.ContextMetadata{ModelName: rt.llmModel, ValidationPassed: true}
		emit(ragmodel.Event{EventType: ragmodel.EventGeneration, Timestamp: time.Now().Unix(), Data: map[string]any{
			"answer":           answer,
			"sources":          []ragmodel.SourceRef(nil),
			"context_metadata": metadata,
			"thread_id":        threadID,
		}})
		return ragmodel.QueryResponse{ThreadID: threadID, Answer: answer, ContextMetadata: metadata}, nil
	}

	if cerr := cancelledCheck(ctx, NodeValidateInput); cerr != nil {
		fail(emit, NodeValidateInput, cerr)
		return ragmodel.QueryResponse{}, cerr
	}

	nodeStart(emit, NodeValidateInput)
	inResult, err := guardrail.ValidateInput(req.Query, rt.cfg.MaxQueryLength)
	nodeEnd(emit, NodeValidateInput)
	if err != nil {
		fail(emit, NodeValidateInput, err)
		return ragmodel.QueryResponse{}, err
	}
	for _, w := range inResult.Warnings {
		warn(emit, NodeValidateInput, w)
	}

	detected := langdetect.Detect(inResult.MaskedQuery)
	queryLanguage := langdetect.Resolve(detected, rc.LanguagePreference)
	if rc.LanguagePreference != "auto" && rc.LanguagePreference != "" {
		if l := langdetect.Language(rc.LanguagePreference); l == langdetect.English || l == langdetect.Russian || l == langdetect.Uzbek {
			queryLanguage = l
		}
	}

	filter := retrieval.TranslateFilter(rc.Filters)

	query := inResult.MaskedQuery
	var docs []vectorstore.Document
	var usedLexical bool
	retryCount := 0
	retrievedCount := 0
	lowRelevanceFallback := false

	for {
		if cerr := cancelledCheck(ctx, NodeRetrieve); cerr != nil {
			fail(emit, NodeRetrieve, cerr)
			return ragmodel.QueryResponse{}, cerr
		}

		nodeStart(emit, NodeRetrieve)
		retrieveResult, err := rt.retrieval.Retrieve(ctx, query, filter, rt.cfg.RetrievalTopK, rt.cfg.RetrievalPrefetchLimit, rt.cfg.RRFK, queryLanguage)
		nodeEnd(emit, NodeRetrieve)
		if err != nil {
			wrapped := wrapNodeError(ctx, NodeRetrieve, pipelineerr.CategoryRetrievalUnavailable, "retrieval failed", err)
			fail(emit, NodeRetrieve, wrapped)
			return ragmodel.QueryResponse{}, wrapped
		}
		usedLexical = retrieveResult.UsedLexical
		retrievedCount = len(retrieveResult.Documents)
		if !usedLexical {
			warn(emit, NodeRetrieve, "dense_only_fallback")
		}

		if cerr := cancelledCheck(ctx, NodeRerank); cerr != nil {
			fail(emit, NodeRerank, cerr)
			return ragmodel.QueryResponse{}, cerr
		}

		nodeStart(emit, NodeRerank)
		reranked, err := rt.reranker.Rerank(ctx, query, retrieveResult.Documents, rt.cfg.RerankTopK)
		nodeEnd(emit, NodeRerank)
		if err != nil {
			if cerr := cancelledCheck(ctx, NodeRerank); cerr != nil || errors.Is(err, context.Canceled) {
				if cerr == nil {
					cerr = pipelineerr.New(pipelineerr.CategoryCancelled, "request cancelled").WithReason(NodeRerank)
				}
				fail(emit, NodeRerank, cerr)
				return ragmodel.QueryResponse{}, cerr
			}
			warn(emit, NodeRerank, "rerank_degraded")
		}

		if cerr := cancelledCheck(ctx, NodeGrade); cerr != nil {
			fail(emit, NodeGrade, cerr)
			return ragmodel.QueryResponse{}, cerr
		}

		nodeStart(emit, NodeGrade)
		gradeResult, err := rt.grader.Grade(ctx, query, reranked)
		nodeEnd(emit, NodeGrade)
		if err != nil {
			wrapped := wrapNodeError(ctx, NodeGrade, pipelineerr.CategoryLLMUnavailable, "grading failed", err)
			fail(emit, NodeGrade, wrapped)
			return ragmodel.QueryResponse{}, wrapped
		}
		for _, w := range gradeResult.Warnings {
			warn(emit, NodeGrade, w)
		}

		docs = gradeResult.Kept
		if len(docs) > 0 {
			break
		}
		if retryCount >= rt.cfg.MaxRetries {
			lowRelevanceFallback = true
			break
		}

		if cerr := cancelledCheck(ctx, NodeRewriteQuery); cerr != nil {
			fail(emit, NodeRewriteQuery, cerr)
			return ragmodel.QueryResponse{}, cerr
		}

		nodeStart(emit, NodeRewriteQuery)
		rewriteResult, rwErr := rt.rewriterC.Rewrite(ctx, query, false)
		nodeEnd(emit, NodeRewriteQuery)
		retryCount++
		if rwErr != nil {
			if cerr := cancelledCheck(ctx, NodeRewriteQuery); cerr != nil || errors.Is(rwErr, context.Canceled) {
				if cerr == nil {
					cerr = pipelineerr.New(pipelineerr.CategoryCancelled, "request cancelled").WithReason(NodeRewriteQuery)
				}
				fail(emit, NodeRewriteQuery, cerr)
				return ragmodel.QueryResponse{}, cerr
			}
			warn(emit, NodeRewriteQuery, "rewrite_rejected")
			continue
		}
		if !rewriteResult.Accepted {
			warn(emit, NodeRewriteQuery, "rewrite_rejected")
			continue
		}
		query = rewriteResult.RewrittenQuery
		if rewriteResult.InferredFilters != nil {
			filter = retrieval.TranslateFilter(mergeFilters(rc.Filters, rewriteResult.InferredFilters))
		}
	}

	history := historyMessages(st.Messages)

	if cerr := cancelledCheck(ctx, NodeGenerate); cerr != nil {
		fail(emit, NodeGenerate, cerr)
		return ragmodel.QueryResponse{}, cerr
	}

	nodeStart(emit, NodeGenerate)
	genOutput, err := rt.generator.Generate(ctx, generatorInput(query, docs, history, queryLanguage, rc, retrievedCount))
	nodeEnd(emit, NodeGenerate)
	if err != nil {
		wrapped := wrapNodeError(ctx, NodeGenerate, pipelineerr.CategoryLLMUnavailable, "generation failed", err)
		fail(emit, NodeGenerate, wrapped)
		return ragmodel.QueryResponse{}, wrapped
	}

	if lowRelevanceFallback {
		warn(emit, NodeGenerate, "low_relevance_fallback")
		genOutput.Metadata.Warnings = append(genOutput.Metadata.Warnings, "low_relevance_fallback")
	}

	includedTexts := make([]string, 0, genOutput.Metadata.DocumentsIncluded)
	for i := 0; i < genOutput.Metadata.DocumentsIncluded && i < len(docs); i++ {
		includedTexts = append(includedTexts, docs[i].Text)
	}

	if cerr := cancelledCheck(ctx, NodeValidateOutput); cerr != nil {
		fail(emit, NodeValidateOutput, cerr)
		return ragmodel.QueryResponse{}, cerr
	}

	nodeStart(emit, NodeValidateOutput)
	outResult := guardrail.ValidateOutput(genOutput.Answer, includedTexts, rt.cfg.StrictOutputGuardrails)
	nodeEnd(emit, NodeValidateOutput)
	for _, w := range outResult.Warnings {
		warn(emit, NodeValidateOutput, w)
	}

	genOutput.Metadata.ConfidenceScore = outResult.ConfidenceScore
	genOutput.Metadata.HasCitations = outResult.HasCitations
	genOutput.Metadata.IsGeneric = outResult.IsGeneric
	genOutput.Metadata.ValidationPassed = outResult.ValidationPassed
	genOutput.Metadata.Warnings = append(genOutput.Metadata.Warnings, outResult.Warnings...)

	rt.sessions.Append(threadID,
		session.Message{Role: "user", Content: req.Query},
		session.Message{Role: "assistant", Content: outResult.Response},
	)
	rt.sessions.SetLastTurnMetadata(threadID, string(queryLanguage), genOutput.Metadata)
	rt.sessions.SetRetryCount(threadID, retryCount)

	response := ragmodel.QueryResponse{
		ThreadID:        threadID,
		Answer:          outResult.Response,
		ContextMetadata: genOutput.Metadata,
		Sources:         genOutput.Sources,
	}

	emit(ragmodel.Event{
		EventType: ragmodel.EventGeneration,
		Timestamp: time.Now().Unix(),
		Data: map[string]any{
			"answer":           outResult.Response,
			"sources":          response.Sources,
			"context_metadata": response.ContextMetadata,
			"thread_id":        threadID,
		},
	})

	return response, nil
}

func generatorInput(query string, docs []vectorstore.Document, history []llm.Message, lang langdetect.Language, rc ragmodel.RuntimeContext, retrievedCount int) generator.Input {
	return generator.Input{
		Query:           query,
		Documents:       docs,
		History:         history,
		Language:        lang,
		ExpertiseLevel:  rc.ExpertiseLevel,
		ResponseStyle:   rc.ResponseStyle,
		EnableCitations: rc.EnableCitations == nil || *rc.EnableCitations,
		RetrievedCount:  retrievedCount,
	}
}

func historyMessages(messages []session.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := llm.RoleUser
		if m.Role == "assistant" {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

func mergeFilters(base, delta map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

func greetingReply(languagePreference string) string {
	switch languagePreference {
	case "ru":
		return "Здравствуйте! Чем могу помочь?"
	case "uz":
		return "Salom! Sizga qanday yordam bera olaman?"
	default:
		return "Hello! How can I help you today?"
	}
}

