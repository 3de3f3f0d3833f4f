// Package generator implements the Generator (C7): it packs graded
// documents into the model's context budget, composes the system
// prompt via promptfactory, calls the chat model, and reports the
// resulting context accounting.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/langdetect"
	"github.com/knoguchi/agentic-rag/internal/llm"
	"github.com/knoguchi/agentic-rag/internal/promptfactory"
	"github.com/knoguchi/agentic-rag/internal/ragmodel"
	"github.com/knoguchi/agentic-rag/internal/tokenbudget"
	"github.com/knoguchi/agentic-rag/internal/vectorstore"
)

// Generator produces the final answer from graded, reranked documents.
type Generator struct {
	llmClient llm.LLM
	model     string
}

func New(llmClient llm.LLM, model string) *Generator {
	return &Generator{llmClient: llmClient, model: model}
}

// Input bundles everything the generator needs for one turn.
type Input struct {
	Query           string
	Documents       []vectorstore.Document // already graded and kept, in descending rerank order
	History         []llm.Message           // prior user/assistant turns, oldest first
	Language        langdetect.Language
	ExpertiseLevel  string
	ResponseStyle   string
	EnableCitations bool

	// RetrievedCount is the number of documents the Retrieval Adapter
	// actually returned before reranking/grading truncated them down to
	// Documents; context_metadata.documents_retrieved reports this, not
	// len(Documents), so it stays a meaningful signal against
	// documents_included.
	RetrievedCount int
}

// Output is the generated answer plus its context accounting.
type Output struct {
	Answer   string
	Metadata ragmodel.ContextMetadata
	Sources  []ragmodel.SourceRef
}

// Generate packs documents into the model's budget, builds the message
// list, and calls the chat model.
func (g *Generator) Generate(ctx context.Context, in Input) (Output, error) {
	window := tokenbudget.WindowFor(g.model)

	queryClass := promptfactory.ClassifyQuery(in.Query)
	systemPrompt := promptfactory.Normalize(promptfactory.BuildSystemPrompt(promptfactory.Params{
		Language:        in.Language,
		QueryClass:      queryClass,
		ExpertiseLevel:  in.ExpertiseLevel,
		ResponseStyle:   in.ResponseStyle,
		EnableCitations: in.EnableCitations,
	}))

	fixedTokens := llm.EstimateTokens(systemPrompt) + llm.EstimateTokens(in.Query)
	for _, h := range in.History {
		fixedTokens += llm.EstimateTokens(h.Content)
	}

	packable := make([]tokenbudget.PackableDoc, len(in.Documents))
	for i, d := range in.Documents {
		packable[i] = tokenbudget.PackableDoc{
			Text:  d.Text,
			Label: fmt.Sprintf("[%d] (Source: %s)", i+1, d.Metadata[vectorstore.MetaSource]),
		}
	}

	packed := tokenbudget.Pack(packable, fixedTokens, window.Window, window.Reserve)

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	messages = append(messages, in.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: buildUserTurn(in.Query, packed.Included)})

	resp, err := g.llmClient.Chat(ctx, messages, llm.ChatOptions{Model: g.model, Temperature: 0.3})
	if err != nil {
		return Output{}, fmt.Errorf("generation call failed: %w", err)
	}

	inputTokens := resp.InputTokens
	if inputTokens == 0 {
		inputTokens = fixedTokens + packed.TokensUsed
	}
	outputTokens := resp.OutputTokens
	if outputTokens == 0 {
		outputTokens = llm.EstimateTokens(resp.Text)
	}

	metadata := ragmodel.ContextMetadata{
		ModelName:          g.model,
		ContextWindow:      window.Window,
		TokensInput:        inputTokens,
		TokensOutput:       outputTokens,
		TokensReserved:     window.Reserve,
		ContextUsagePercent: tokenbudget.UsagePercent(inputTokens, window.Window, window.Reserve),
		DocumentsRetrieved: in.RetrievedCount,
		DocumentsIncluded:  packed.DocumentsIncluded,
	}

	return Output{
		Answer:   resp.Text,
		Metadata: metadata,
		Sources:  buildSources(in.Documents, packed.DocumentsIncluded),
	}, nil
}

func buildUserTurn(query string, sources []string) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(query)
	if len(sources) > 0 {
		sb.WriteString("\n\nContext documents:\n\n")
		sb.WriteString(strings.Join(sources, "\n\n"))
	}
	return sb.String()
}

func buildSources(docs []vectorstore.Document, includedCount int) []ragmodel.SourceRef {
	if includedCount > len(docs) {
		includedCount = len(docs)
	}
	out := make([]ragmodel.SourceRef, 0, includedCount)
	for i := 0; i < includedCount; i++ {
		d := docs[i]
		snippet := d.Text
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		out = append(out, ragmodel.SourceRef{
			DocumentID: d.Metadata[vectorstore.MetaDocumentID],
			Source:     d.Metadata[vectorstore.MetaSource],
			PageNumber: d.Metadata[vectorstore.MetaPageNumber],
			Snippet:    snippet,
		})
	}
	return out
}
