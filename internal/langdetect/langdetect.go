// Package langdetect classifies query text into en/ru/uz/unknown using
// cheap Unicode-script inspection and small stop-word sets, with no
// external calls.
package langdetect

import (
	"strings"
	"unicode"
)

// Language is one of the four detectable classes.
type Language string

const (
	English Language = "en"
	Russian Language = "ru"
	Uzbek   Language = "uz"
	Unknown Language = "unknown"
)

// uzbekParticles are Uzbek-specific digraphs/particles absent from
// standard Russian, used to distinguish uz from ru when both use
// Cyrillic, and from en when transliterated in Latin script.
var uzbekParticles = []string{"ў", "қ", "ғ", "ҳ", "bo'l", "uchun", "bilan", "yoki", "lekin", "qanday"}

var russianStopWords = []string{"что", "как", "это", "для", "или", "если", "который", "также", "может"}

var englishStopWords = []string{"the", "what", "how", "is", "are", "and", "for", "with", "this", "that"}

// Result reports the detected language and, when the decision was close,
// the runner-up so a caller can prefer a runtime-set preference over an
// unreliable short-query guess (spec's documented tie-break).
type Result struct {
	Language  Language
	RunnerUp  Language
}

// Detect classifies text. It is a pure function of its input.
func Detect(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Language: Unknown}
	}

	var cyrillic, latin, uzbekHits int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.IsLetter(r) && r < unicode.MaxASCII:
			latin++
		}
	}

	lower := strings.ToLower(text)
	for _, p := range uzbekParticles {
		if strings.Contains(lower, p) {
			uzbekHits++
		}
	}

	// Priority per spec: Cyrillic + Russian stop-words -> ru; Cyrillic or
	// Latin with Uzbek digraphs/particles -> uz; Latin ASCII dominant with
	// English stop-words -> en; otherwise unknown.
	russianHits := countWordHits(lower, russianStopWords)
	englishHits := countWordHits(lower, englishStopWords)

	switch {
	case cyrillic > 0 && russianHits > 0 && uzbekHits == 0:
		return Result{Language: Russian, RunnerUp: uzbekOrUnknown(uzbekHits)}
	case uzbekHits > 0:
		ru := Unknown
		if cyrillic > latin {
			ru = Russian
		} else if englishHits > 0 {
			ru = English
		}
		return Result{Language: Uzbek, RunnerUp: ru}
	case cyrillic > latin && cyrillic > 0:
		return Result{Language: Russian, RunnerUp: Unknown}
	case latin > 0 && englishHits > 0:
		return Result{Language: English, RunnerUp: Unknown}
	case latin > cyrillic && latin > 0:
		// Latin-dominant with no recognised stop-words: too short/ambiguous
		// to call English confidently; report the runner-up so callers can
		// fall back to a configured preference.
		return Result{Language: Unknown, RunnerUp: English}
	default:
		return Result{Language: Unknown}
	}
}

func uzbekOrUnknown(hits int) Language {
	if hits > 0 {
		return Uzbek
	}
	return Unknown
}

func countWordHits(lowerText string, words []string) int {
	hits := 0
	fields := strings.FieldsFunc(lowerText, func(r rune) bool { return !unicode.IsLetter(r) })
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	for _, w := range words {
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return hits
}

// Resolve applies spec's documented tie-break: an explicit runtime
// preference wins over an Unknown/low-confidence detection.
func Resolve(detected Result, preferred string) Language {
	if detected.Language != Unknown {
		return detected.Language
	}
	switch preferred {
	case "en", "ru", "uz":
		return Language(preferred)
	}
	return English
}
