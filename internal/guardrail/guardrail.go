// Package guardrail implements the deterministic input/output filters
// that enforce safety and policy invariants independent of the LLM.
package guardrail

import (
	"regexp"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/pipelineerr"
)

// injectionPatterns is the prompt-injection denylist: instructions to
// ignore prior directives, role-override phrases, jailbreak markers, and
// attempts to reveal the system prompt.
var injectionPatterns = compileAll([]string{
	`ignore\s+(all\s+)?(previous|above|prior)\s+(instructions|prompts|commands)`,
	`disregard\s+(all\s+)?(previous|above|prior)`,
	`forget\s+(all\s+)?(previous|above|prior)`,
	`new\s+instructions?:`,
	`system\s*:`,
	`assistant\s*:`,
	`###\s*instruction`,
	`you\s+are\s+now`,
	// Go's regexp has no lookahead, so this also matches "act as assistant".
	`act\s+as\s+(a\s+)?`,
	`pretend\s+to\s+be`,
	`roleplay\s+as`,
	`jailbreak`,
	`dan\s+mode`,
	`developer\s+mode`,
	`what\s+(are|is)\s+your\s+(system\s+)?(prompt|instructions)`,
	`show\s+me\s+your\s+(system\s+)?(prompt|instructions)`,
	`repeat\s+(your\s+)?(system\s+)?(prompt|instructions)`,
})

var specialCharRatioThreshold = 0.4

var specialCharPattern = regexp.MustCompile(`[^\p{L}\s.,!?'"-]`)

// sqlPatterns and commandPatterns back the malicious-content scan; per
// spec.md these are warnings, not hard failures (the source's
// `detect_malicious_patterns` raises — spec.md is authoritative here).
var sqlPatterns = compileAll([]string{
	`;\s*drop\s+table`,
	`;\s*delete\s+from`,
	`union\s+select`,
	`1\s*=\s*1`,
	`'\s*or\s*'1'\s*=\s*'1`,
})

var commandPatterns = compileAll([]string{
	`;\s*rm\s+-rf`,
	`&&\s*rm\s+`,
	`\|\s*bash`,
	"`[^`]*`",
	`\$\([^)]*\)`,
})

// leakagePatterns backs output-leakage detection: system-prompt echoes
// and internal/secret-like tokens.
var leakagePatterns = compileAll([]string{
	`system\s+prompt`,
	`my\s+instructions\s+(are|were)`,
	`i\s+was\s+told\s+to`,
	`api\s+key`,
	`secret\s+key`,
	`password`,
	`bearer\s+[a-z0-9._-]{10,}`,
})

var genericPatterns = compileAll([]string{
	`i don't know`,
	`i cannot answer`,
	`no information`,
	`not enough information`,
	`unable to answer`,
	`i don't have.*information`,
})

var citationPatterns = compileAll([]string{
	`\[\d+\]`,
	`\(page \d+\)`,
	`\(pages \d+-\d+\)`,
	`according to`,
	`as stated in`,
	`the document mentions`,
	`page \d+ states`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// piiPatterns pairs each PII regex with its typed replacement token; spec.md specifies
// angle-bracket tokens (the source's square-bracket tokens are not used).
var piiPatterns = []struct {
	re    *regexp.Regexp
	token string
}{
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "<EMAIL>"},
	{regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`), "<PHONE>"},
	{regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.]?\d{4}`), "<PHONE>"},
	{regexp.MustCompile(`\+\d{1,3}\s?\d{9,}`), "<PHONE>"},
	{regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`), "<CREDIT_CARD>"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "<SSN>"},
}

var ipPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// MaskPII replaces recognised PII with typed tokens. It is idempotent:
// masking an already-masked string is a no-op, since the tokens
// themselves don't match any PII pattern.
func MaskPII(text string) (found bool, masked string) {
	masked = text
	for _, p := range piiPatterns {
		if p.re.MatchString(masked) {
			masked = p.re.ReplaceAllString(masked, p.token)
			found = true
		}
	}
	if ipPattern.MatchString(masked) {
		masked = ipPattern.ReplaceAllStringFunc(masked, func(ip string) string {
			if validIPv4(ip) {
				found = true
				return "<IP_ADDRESS>"
			}
			return ip
		})
	}
	return found, masked
}

func validIPv4(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return false
			}
			n = n*10 + int(c-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// InputResult is the outcome of ValidateInput.
type InputResult struct {
	MaskedQuery string
	Warnings    []string
}

// ValidateInput enforces length and scans for injection/PII/malicious
// content. Injection and length overflow are hard failures
// (category guardrail_input); PII masking and malicious-pattern matches
// are warnings, never errors, per the component design.
func ValidateInput(query string, maxLength int) (InputResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return InputResult{}, pipelineerr.New(pipelineerr.CategoryGuardrailInput, "query cannot be empty").WithReason("empty")
	}
	if len(query) > maxLength {
		return InputResult{}, pipelineerr.New(pipelineerr.CategoryGuardrailInput, "query too long").WithReason("too_long")
	}
	if anyMatch(injectionPatterns, query) || specialCharRatio(query) > specialCharRatioThreshold {
		return InputResult{}, pipelineerr.New(pipelineerr.CategoryGuardrailInput, "potential prompt injection detected").WithReason("injection")
	}

	var warnings []string
	found, masked := MaskPII(query)
	if found {
		warnings = append(warnings, "pii_masked")
	}
	if anyMatch(sqlPatterns, query) || anyMatch(commandPatterns, query) {
		warnings = append(warnings, "malicious_pattern_detected")
	}

	return InputResult{MaskedQuery: masked, Warnings: warnings}, nil
}

func specialCharRatio(text string) float64 {
	if text == "" {
		return 0
	}
	n := len(specialCharPattern.FindAllString(text, -1))
	return float64(n) / float64(len([]rune(text)))
}

// OutputResult is the outcome of ValidateOutput.
type OutputResult struct {
	Response         string
	ConfidenceScore  float64
	HasCitations     bool
	IsGeneric        bool
	ValidationPassed bool
	Warnings         []string
}

// ValidateOutput re-masks PII, scans for leakage, computes grounding
// confidence, and detects generic/citation-free answers. Leakage strips
// the offending text and marks validation failed but never raises — the
// source's hard failure on leakage is overridden by spec.md's explicit
// non-fatal behaviour.
func ValidateOutput(response string, includedDocs []string, strict bool) OutputResult {
	var warnings []string

	if found, masked := MaskPII(response); found {
		response = masked
		warnings = append(warnings, "pii_masked_in_response")
	}

	leaked := anyMatch(leakagePatterns, response)
	if leaked {
		response = redactLeakage(response)
		warnings = append(warnings, "leakage_redacted")
	}

	confidence := groundingConfidence(response, includedDocs)
	isGeneric := anyMatch(genericPatterns, response)
	if isGeneric {
		warnings = append(warnings, "generic_response")
	}
	hasCitations := anyMatch(citationPatterns, response)
	if !hasCitations && len(includedDocs) > 0 {
		warnings = append(warnings, "no_citations")
	}

	validationPassed := confidence > 0.3 && !isGeneric && (hasCitations || len(includedDocs) == 0)
	if strict && confidence < 0.3 {
		validationPassed = false
		warnings = append(warnings, "low_confidence_strict")
	}
	if leaked {
		validationPassed = false
	}

	return OutputResult{
		Response:         response,
		ConfidenceScore:  confidence,
		HasCitations:     hasCitations,
		IsGeneric:        isGeneric,
		ValidationPassed: validationPassed,
		Warnings:         warnings,
	}
}

func redactLeakage(text string) string {
	out := text
	for _, p := range leakagePatterns {
		out = p.ReplaceAllString(out, "[redacted]")
	}
	return out
}

var wordPattern = regexp.MustCompile(`\b\w{4,}\b`)

// groundingConfidence measures token overlap between the response and the
// union of included documents. Per spec.md: a 0.30 overlap ratio maps to
// a 0.70 confidence, scaled linearly on both sides of that pivot: ratios
// from 0.30 to 1.0 map onto 0.70..1.0 and ratios below 0.30 map onto
// 0..0.70 (the source's min(ratio/0.3, 1.0) curve would give 1.0 at the
// pivot itself).
func groundingConfidence(response string, includedDocs []string) float64 {
	if len(includedDocs) == 0 {
		return 0.5
	}
	responseWords := wordSet(response)
	if len(responseWords) == 0 {
		return 0
	}
	docWords := wordSet(strings.Join(includedDocs, " "))
	if len(docWords) == 0 {
		return 0
	}

	overlap := 0
	for w := range responseWords {
		if _, ok := docWords[w]; ok {
			overlap++
		}
	}
	ratio := float64(overlap) / float64(len(responseWords))

	const pivotRatio, pivotConfidence = 0.30, 0.70
	var confidence float64
	if ratio >= pivotRatio {
		confidence = pivotConfidence + (ratio-pivotRatio)/(1-pivotRatio)*(1-pivotConfidence)
	} else {
		confidence = ratio / pivotRatio * pivotConfidence
	}
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}
	return roundTo2(confidence)
}

func roundTo2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func wordSet(text string) map[string]struct{} {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
