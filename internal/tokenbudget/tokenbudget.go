// Package tokenbudget estimates token counts and packs graded documents
// into a model-specific context window.
package tokenbudget

import (
	"strings"
)

// MinDocTokens is the minimum remaining budget required to include a
// truncated document prefix rather than stopping packing entirely.
const MinDocTokens = 128

// ModelWindow describes one model family's context window and the
// output headroom reserved ahead of packing.
type ModelWindow struct {
	Window  int
	Reserve int
}

// knownWindows is the per-model-family table from the component design,
// enriched with the broader family list the original service tracked
// (context_manager.py's CONTEXT_WINDOWS) beyond the four rows spec.md
// names explicitly.
var knownWindows = map[string]ModelWindow{
	"claude-opus-4":   {Window: 200000, Reserve: 4000},
	"claude-sonnet-4": {Window: 200000, Reserve: 4000},
	"claude-4":        {Window: 200000, Reserve: 4000},
	"gpt-4o":          {Window: 128000, Reserve: 4000},
	"gpt-4":           {Window: 8192, Reserve: 4000},
	"gpt-3.5-turbo":   {Window: 16385, Reserve: 4000},
	"llama3.1":        {Window: 128000, Reserve: 4000},
	"llama-3.1":       {Window: 128000, Reserve: 4000},
	"llama3.2":        {Window: 128000, Reserve: 4000},
	"mistral":         {Window: 32000, Reserve: 4000},
	"mixtral":         {Window: 32000, Reserve: 4000},
}

const defaultWindow, defaultReserve = 8000, 4000

// WindowFor resolves a model family window by substring match against the
// concrete model name (the longest matching family name wins, so
// "gpt-4o-mini" resolves to "gpt-4o" rather than "gpt-4"), falling back
// to a conservative default.
func WindowFor(modelName string) ModelWindow {
	name := strings.ToLower(modelName)
	best, bestLen := ModelWindow{Window: defaultWindow, Reserve: defaultReserve}, 0
	for family, w := range knownWindows {
		if strings.Contains(name, family) && len(family) > bestLen {
			best, bestLen = w, len(family)
		}
	}
	return best
}

// EstimateTokens is a lightweight character-to-token estimator (roughly
// 4 characters per token, the common BPE approximation). Exact
// tokenization is not required for correctness; the packer must simply
// never exceed the declared window.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// PackableDoc is the minimal shape the packer needs from a graded document.
type PackableDoc struct {
	Text  string
	Label string // e.g. "[1] (Title: ...) (Source: ...)"
}

// PackResult is the outcome of fitting documents into the budget.
type PackResult struct {
	Included        []string // formatted, ready-to-concatenate document blocks
	DocumentsIncluded int
	DocumentsTotal    int
	TokensUsed        int
	Truncated         bool
}

// Pack fits documents (already in grading order) into the available
// budget, truncating at a sentence boundary when a document doesn't fit
// whole but the remaining budget still clears MinDocTokens.
func Pack(docs []PackableDoc, fixedTokens, window, reserve int) PackResult {
	available := window - reserve - fixedTokens
	result := PackResult{DocumentsTotal: len(docs)}
	if available <= 0 {
		return result
	}

	remaining := available
	for _, d := range docs {
		block := d.Label + ": " + d.Text
		blockTokens := EstimateTokens(block)

		if blockTokens <= remaining {
			result.Included = append(result.Included, block)
			result.DocumentsIncluded++
			result.TokensUsed += blockTokens
			remaining -= blockTokens
			continue
		}

		if remaining < MinDocTokens {
			result.Truncated = true
			break
		}

		// Leave room for the label, ": " and "..." so the block stays
		// within remaining*4 characters, i.e. within the remaining budget.
		truncated := truncateAtSentence(d.Text, remaining*4-len(d.Label)-5)
		block = d.Label + ": " + truncated + "..."
		blockTokens = EstimateTokens(block)
		result.Included = append(result.Included, block)
		result.DocumentsIncluded++
		result.TokensUsed += blockTokens
		result.Truncated = true
		break
	}

	if result.DocumentsIncluded < result.DocumentsTotal {
		result.Truncated = true
	}
	return result
}

// truncateAtSentence trims text to at most maxChars, backing off to the
// last sentence-ending punctuation if one exists in range.
func truncateAtSentence(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > maxChars/2 {
		return cut[:idx+1]
	}
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		return cut[:idx]
	}
	return cut
}

// UsagePercent computes context_usage_percent, clamped at 100.
func UsagePercent(tokensInput, window, reserve int) float64 {
	denom := window - reserve
	if denom <= 0 {
		return 0
	}
	pct := float64(tokensInput) / float64(denom) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}
