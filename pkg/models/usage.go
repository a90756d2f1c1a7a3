package models

import "time"

// Call outcomes recorded in the ledger.
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
	OutcomeError    = "error"
)

// CallRecord is one terminal outcome of a proxied call.
type CallRecord struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id,omitempty"`
	Operation        Operation `json:"operation"`
	AnalysisType     string    `json:"analysis_type,omitempty"`
	Model            string    `json:"model,omitempty"`
	Outcome          string    `json:"outcome"`
	Category         string    `json:"category,omitempty"`
	Attempts         int       `json:"attempts"`
	LatencyMs        int64     `json:"latency_ms"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// CallSummary aggregates ledger records per operation and outcome.
type CallSummary struct {
	Operation    Operation `json:"operation"`
	Outcome      string    `json:"outcome"`
	Category     string    `json:"category,omitempty"`
	Count        int       `json:"count"`
	AvgAttempts  float64   `json:"avg_attempts"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	TotalTokens  int64     `json:"total_tokens"`
}
