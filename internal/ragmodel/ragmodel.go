// Package ragmodel holds the data types shared across the pipeline
// stages — the request/response contract, context accounting, and the
// event envelope — so no single stage package owns them.
package ragmodel

import "golang.org/x/text/language"

// RuntimeContext carries per-request tuning knobs layered on top of the
// raw query.
type RuntimeContext struct {
	LanguagePreference string         `json:"language_preference,omitempty"` // auto, en, ru, uz
	ExpertiseLevel     string         `json:"expertise_level,omitempty"`     // beginner, intermediate, expert, general
	ResponseStyle      string         `json:"response_style,omitempty"`      // concise, balanced, detailed
	EnableCitations    *bool          `json:"enable_citations,omitempty"`
	MaxResponseLength  *int           `json:"max_response_length,omitempty"`
	Filters            map[string]any `json:"filters,omitempty"`
}

// Normalized applies the documented defaults to an optionally-sparse
// RuntimeContext.
func (rc RuntimeContext) Normalized() RuntimeContext {
	out := rc
	if out.LanguagePreference == "" {
		out.LanguagePreference = "auto"
	}
	if out.ExpertiseLevel == "" {
		out.ExpertiseLevel = "general"
	}
	if out.ResponseStyle == "" {
		out.ResponseStyle = "balanced"
	}
	if out.EnableCitations == nil {
		t := true
		out.EnableCitations = &t
	}
	return out
}

// ValidLanguagePreference reports whether a caller-supplied
// language_preference is "auto" or a BCP 47 tag this service actually
// supports (en, ru, uz). It uses golang.org/x/text/language to parse
// the tag rather than a bespoke switch, so malformed tags like "en_US"
// or "EN-gb" are normalised/rejected the same way the rest of the
// ecosystem does.
func ValidLanguagePreference(pref string) bool {
	if pref == "" || pref == "auto" {
		return true
	}
	tag, err := language.Parse(pref)
	if err != nil {
		return false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return false
	}
	switch base.String() {
	case "en", "ru", "uz":
		return true
	default:
		return false
	}
}

// QueryRequest is the inbound intake payload.
type QueryRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	Query    string         `json:"query"`
	Context  RuntimeContext `json:"context,omitempty"`
}

// ContextMetadata reports how the generator used its context budget and
// what confidence it has in the resulting answer.
type ContextMetadata struct {
	ModelName           string   `json:"model_name"`
	ContextWindow        int      `json:"context_window"`
	TokensInput          int      `json:"tokens_input"`
	TokensOutput         int      `json:"tokens_output"`
	TokensReserved       int      `json:"tokens_reserved"`
	ContextUsagePercent  float64  `json:"context_usage_percent"`
	DocumentsRetrieved   int      `json:"documents_retrieved"`
	DocumentsIncluded    int      `json:"documents_included"`
	ConfidenceScore      float64  `json:"confidence_score"`
	HasCitations         bool     `json:"has_citations"`
	IsGeneric            bool     `json:"is_generic"`
	ValidationPassed     bool     `json:"validation_passed"`
	Warnings             []string `json:"warnings,omitempty"`
}

// EventType enumerates the kinds of events the runtime can emit on the
// event stream.
type EventType string

const (
	EventWarning       EventType = "warning"
	EventError         EventType = "error"
	EventNodeStart     EventType = "node_start"
	EventNodeEnd       EventType = "node_end"
	EventThreadCreated EventType = "thread_created"
	EventGeneration    EventType = "generation"
)

// Event is one entry on a request's event stream.
type Event struct {
	EventType EventType      `json:"event_type"`
	Node      string         `json:"node,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// QueryResponse is the terminal payload returned by a synchronous query
// and mirrored by the final "generation" event on the streaming path.
type QueryResponse struct {
	ThreadID        string           `json:"thread_id"`
	Answer          string           `json:"answer"`
	ContextMetadata ContextMetadata  `json:"context_metadata"`
	Sources         []SourceRef      `json:"sources,omitempty"`
}

// SourceRef is a citation-facing summary of one document used to ground
// the answer, stripped of internal scoring fields.
type SourceRef struct {
	DocumentID string `json:"document_id,omitempty"`
	Source     string `json:"source,omitempty"`
	PageNumber string `json:"page_number,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}
