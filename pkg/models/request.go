package models

import "encoding/json"

// AnalyzeRequest is an analysis call for a single phrase.
// Image is optional visual context and never part of the cache key.
type AnalyzeRequest struct {
	Phrase  string       `json:"phrase"`
	Type    AnalysisType `json:"type"`
	Context string       `json:"context,omitempty"`
	Image   []byte       `json:"-"`
}

// Phrase is a single phrase found in an image.
type Phrase struct {
	Text          string `json:"text"`
	Reading       string `json:"reading,omitempty"`
	Translation   string `json:"translation,omitempty"`
	ContextPhrase string `json:"contextPhrase,omitempty"`
}

// IdentifyResult is the result of an identification call.
type IdentifyResult struct {
	Phrases []Phrase `json:"phrases"`
}

// ExtractResult is the result of a text extraction call.
type ExtractResult struct {
	Text  string   `json:"text"`
	Lines []string `json:"lines"`
}

// Envelope is the response body returned to API callers.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the caller-facing description of a failure.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}
