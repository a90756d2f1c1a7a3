package models

import "fmt"

// Operation identifies a kind of upstream call made by the proxy.
type Operation string

const (
	OpIdentify Operation = "identify"
	OpAnalyze  Operation = "analyze"
	OpExtract  Operation = "extract"
)

// Operations lists every supported operation.
var Operations = []Operation{OpIdentify, OpAnalyze, OpExtract}

// Label is the human-readable verb phrase used in caller-facing messages.
func (o Operation) Label() string {
	switch o {
	case OpIdentify:
		return "identify phrases"
	case OpAnalyze:
		return "analyze phrase"
	case OpExtract:
		return "extract text"
	default:
		return "process request"
	}
}

// ParseOperation validates a raw operation name.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// AnalysisType selects what an analysis call produces for a phrase.
type AnalysisType string

const (
	AnalysisTranslate   AnalysisType = "translate"
	AnalysisExplain     AnalysisType = "explain"
	AnalysisGrammar     AnalysisType = "grammar"
	AnalysisVocabulary  AnalysisType = "vocabulary"
	AnalysisConjugation AnalysisType = "conjugation"
)
