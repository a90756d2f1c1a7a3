package analyzer

import (
	"fmt"
	"strings"

	"github.com/pario-ai/kotoba/pkg/models"
)

const identifyPrompt = `You are a Japanese language assistant. Find the Japanese phrases in this screenshot.
Return at most %d phrases as JSON: {"phrases":[{"text":"","reading":"","translation":"","contextPhrase":""}]}.
Use hiragana for "reading". "contextPhrase" is the full sentence the phrase appears in, or "".`

const extractPrompt = `Transcribe all Japanese text visible in this image exactly as written, top to bottom.
Return JSON: {"text":"<all text joined by newlines>","lines":["<one entry per line>"]}.`

var analysisInstructions = map[models.AnalysisType]string{
	models.AnalysisTranslate:   `Translate the phrase into natural English. Return JSON: {"translation":"","literal":"","notes":""}.`,
	models.AnalysisExplain:     `Explain what the phrase means and when it is used. Return JSON: {"meaning":"","usage":"","nuance":"","examples":[""]}.`,
	models.AnalysisGrammar:     `Break down the grammar of the phrase. Return JSON: {"structure":"","points":[{"pattern":"","explanation":""}]}.`,
	models.AnalysisVocabulary:  `List the vocabulary in the phrase. Return JSON: {"words":[{"word":"","reading":"","meaning":"","partOfSpeech":""}]}.`,
	models.AnalysisConjugation: `List the conjugated verbs and adjectives in the phrase. Return JSON: {"forms":[{"word":"","dictionaryForm":"","form":"","explanation":""}]}.`,
}

func buildIdentifyPrompt(maxPhrases int) string {
	return fmt.Sprintf(identifyPrompt, maxPhrases)
}

func buildExtractPrompt() string {
	return extractPrompt
}

func buildAnalyzePrompt(req models.AnalyzeRequest) string {
	var b strings.Builder
	b.WriteString("You are a Japanese language tutor for English speakers.\n")
	b.WriteString(analysisInstructions[req.Type])
	fmt.Fprintf(&b, "\nPhrase: %s\n", req.Phrase)
	if req.Context != "" {
		fmt.Fprintf(&b, "It appears in: %s\n", req.Context)
	}
	if len(req.Image) > 0 {
		b.WriteString("The attached screenshot shows where the phrase appears.\n")
	}
	return b.String()
}

// stripFences removes a surrounding ```json fence that models sometimes add
// even in JSON mode.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
