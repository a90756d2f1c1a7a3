// Package upstream talks to the generative model API.
package upstream

//go:generate mockgen -package=mock -source=client.go -destination=mock/client.go

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client sends a single generation request upstream.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is a single-turn generation request.
type Request struct {
	Model       string
	Prompt      string
	Image       []byte
	ImageMIME   string
	Temperature *float64
	// JSON asks the model for an application/json response body.
	JSON bool
	// Schema optionally constrains a JSON response.
	Schema json.RawMessage
}

// Response is the first candidate returned by the model.
type Response struct {
	Text         string
	FinishReason string
	Usage        Usage
}

// Usage holds token counts reported by the model.
type Usage struct {
	PromptTokens    int
	CandidateTokens int
	TotalTokens     int
}

// Error is a failure reported by the upstream API.
type Error struct {
	StatusCode     int
	Status         string
	Message        string
	RetryAfterHint time.Duration
}

func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus implements failure.Statuser.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// ErrorCode implements failure.Coder.
func (e *Error) ErrorCode() string {
	return e.Status
}

// RetryAfter implements failure.RetryHinter.
func (e *Error) RetryAfter() time.Duration {
	return e.RetryAfterHint
}

// ErrMissingAPIKey is returned before any network I/O when no key is set.
var ErrMissingAPIKey = &Error{
	StatusCode: http.StatusUnauthorized,
	Status:     "UNAUTHENTICATED",
	Message:    "missing API key",
}
