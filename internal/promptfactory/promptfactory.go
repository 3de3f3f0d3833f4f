// Package promptfactory is the single source of truth for prompt
// content. It composes a system prompt from three enumerated axes —
// language, query class, and expertise level — plus response style and
// citation policy, rather than scattering string templates across
// modules.
package promptfactory

import (
	"regexp"
	"strings"

	"github.com/knoguchi/agentic-rag/internal/langdetect"
)

// QueryClass is a coarse classification of the query's intent, used to
// pick an instruction variant.
type QueryClass string

const (
	ClassDefinition QueryClass = "definition"
	ClassComparison QueryClass = "comparison"
	ClassHowTo      QueryClass = "how_to"
	ClassList       QueryClass = "list"
	ClassAnalytical QueryClass = "analytical"
	ClassFactual    QueryClass = "factual"
)

var classKeywords = map[QueryClass][]string{
	ClassDefinition: {"what is", "what are", "define", "meaning of"},
	ClassComparison: {"difference between", "compare", "versus", " vs "},
	ClassHowTo:      {"how to", "how do i", "how can i", "steps to"},
	ClassList:       {"list", "examples of", "types of"},
	ClassAnalytical: {"why", "analyze", "explain the reasoning", "impact of"},
}

// ClassifyQuery applies keyword heuristics to pick a query class,
// defaulting to factual when nothing else matches.
func ClassifyQuery(query string) QueryClass {
	lower := strings.ToLower(query)
	for _, class := range []QueryClass{ClassDefinition, ClassComparison, ClassHowTo, ClassList, ClassAnalytical} {
		for _, kw := range classKeywords[class] {
			if strings.Contains(lower, kw) {
				return class
			}
		}
	}
	return ClassFactual
}

// Params is everything the factory needs to compose a system prompt.
type Params struct {
	Language        langdetect.Language
	QueryClass      QueryClass
	ExpertiseLevel  string // beginner, intermediate, expert, general
	ResponseStyle   string // concise, balanced, detailed
	EnableCitations bool
}

var baseIntro = map[langdetect.Language]string{
	langdetect.English: "You are a knowledgeable assistant that answers questions using only the provided context documents.",
	langdetect.Russian: "Вы — эксперт-ассистент, отвечающий на вопросы, используя только предоставленные документы.",
	langdetect.Uzbek:   "Siz faqat taqdim etilgan hujjatlardan foydalanib savollarga javob beruvchi bilimdon yordamchisiz.",
}

var groundingInstruction = map[langdetect.Language]string{
	langdetect.English: "Base your answer strictly on the context documents. If the documents don't contain the answer, say so clearly.",
	langdetect.Russian: "Основывайте ответ строго на контекстных документах. Если ответа нет в документах, прямо скажите об этом.",
	langdetect.Uzbek:   "Javobingizni faqat kontekst hujjatlariga asoslang. Agar hujjatlarda javob bo'lmasa, buni aniq ayting.",
}

var citationInstruction = map[langdetect.Language]string{
	langdetect.English: "Cite sources using [N] markers referencing the document number, and include page numbers when available.",
	langdetect.Russian: "Указывайте источники с помощью меток [N], ссылающихся на номер документа, и номера страниц, если они доступны.",
	langdetect.Uzbek:   "Manbalarni hujjat raqamiga ishora qiluvchi [N] belgilari bilan ko'rsating va mavjud bo'lsa sahifa raqamlarini qo'shing.",
}

var expertiseInstruction = map[string]map[langdetect.Language]string{
	"expert": {
		langdetect.English: "Use precise technical terminology; assume the reader is a domain expert.",
		langdetect.Russian: "Используйте точную техническую терминологию; читатель — эксперт в данной области.",
		langdetect.Uzbek:   "Aniq texnik terminologiyadan foydalaning; o'quvchi soha bo'yicha mutaxassis deb hisoblang.",
	},
	"beginner": {
		langdetect.English: "Explain in plain language, avoiding jargon; define any technical term you must use.",
		langdetect.Russian: "Объясняйте простым языком, избегая жаргона; определяйте любой используемый технический термин.",
		langdetect.Uzbek:   "Oddiy tilda tushuntiring, jargondan saqlaning; ishlatishingiz kerak bo'lgan har qanday texnik atamani aniqlang.",
	},
}

var styleInstruction = map[string]map[langdetect.Language]string{
	"concise": {
		langdetect.English: "Keep the answer brief and to the point.",
		langdetect.Russian: "Делайте ответ кратким и по существу.",
		langdetect.Uzbek:   "Javobni qisqa va lo'nda saqlang.",
	},
	"detailed": {
		langdetect.English: "Provide a thorough, well-structured answer with supporting detail.",
		langdetect.Russian: "Дайте исчерпывающий, хорошо структурированный ответ с подробностями.",
		langdetect.Uzbek:   "Batafsil ma'lumotlar bilan to'liq va yaxshi tuzilgan javob bering.",
	},
}

var classInstruction = map[QueryClass]map[langdetect.Language]string{
	ClassComparison: {
		langdetect.English: "Structure the answer around the points of similarity and difference.",
		langdetect.Russian: "Постройте ответ вокруг сходств и различий.",
		langdetect.Uzbek:   "Javobni o'xshashlik va farqlar atrofida tuzing.",
	},
	ClassHowTo: {
		langdetect.English: "Present the answer as a numbered sequence of steps.",
		langdetect.Russian: "Представьте ответ в виде пронумерованной последовательности шагов.",
		langdetect.Uzbek:   "Javobni raqamlangan qadamlar ketma-ketligi sifatida taqdim eting.",
	},
	ClassList: {
		langdetect.English: "Present the answer as a bulleted list.",
		langdetect.Russian: "Представьте ответ в виде маркированного списка.",
		langdetect.Uzbek:   "Javobni belgilangan ro'yxat sifatida taqdim eting.",
	},
}

// BuildSystemPrompt composes the system prompt from the enumerated axes.
func BuildSystemPrompt(p Params) string {
	lang := p.Language
	if lang != langdetect.Russian && lang != langdetect.Uzbek {
		lang = langdetect.English
	}

	parts := []string{lookup(baseIntro, lang)}

	if instr, ok := expertiseInstruction[p.ExpertiseLevel][lang]; ok {
		parts = append(parts, instr)
	}
	if instr, ok := classInstruction[p.QueryClass][lang]; ok {
		parts = append(parts, instr)
	}
	parts = append(parts, lookup(groundingInstruction, lang))
	if p.EnableCitations {
		parts = append(parts, lookup(citationInstruction, lang))
	}
	if instr, ok := styleInstruction[p.ResponseStyle][lang]; ok {
		parts = append(parts, instr)
	}

	return strings.Join(parts, " ")
}

func lookup(m map[langdetect.Language]string, lang langdetect.Language) string {
	if v, ok := m[lang]; ok {
		return v
	}
	return m[langdetect.English]
}

var multiSpace = regexp.MustCompile(`\s+`)

// Normalize collapses redundant whitespace left over from composition.
func Normalize(s string) string {
	return multiSpace.ReplaceAllString(strings.TrimSpace(s), " ")
}
