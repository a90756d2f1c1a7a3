package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiClient(GeminiConfig{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second})
}

func TestGenerate(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		raw, _ := io.ReadAll(r.Body)
		var req geminiRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Len(t, req.Contents, 1)
		require.Len(t, req.Contents[0].Parts, 2)
		assert.Equal(t, "describe", req.Contents[0].Parts[0].Text)
		assert.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)
		assert.Equal(t, "iVBORw==", req.Contents[0].Parts[1].InlineData.Data)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.JSONEq(t, `{"type":"object"}`, string(req.GenerationConfig.ResponseJSONSchema))

		_, _ = io.WriteString(w, `{
			"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":4,"totalTokenCount":14}
		}`)
	})

	resp, err := client.Generate(context.Background(), Request{
		Model:  "gemini-2.0-flash",
		Prompt: "describe",
		Image:  []byte{0x89, 'P', 'N', 'G'},
		JSON:   true,
		Schema: json.RawMessage(`{"type":"object"}`),
	})

	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 10, CandidateTokens: 4, TotalTokens: 14}, resp.Usage)
}

func TestGenerateMissingKey(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	client := NewGeminiClient(GeminiConfig{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusUnauthorized, uerr.HTTPStatus())
	assert.False(t, called)
}

func TestGenerateErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Resource has been exhausted (e.g. check quota).","status":"RESOURCE_EXHAUSTED",
			"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"5s"}]}}`)
	})

	_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, 429, uerr.StatusCode)
	assert.Equal(t, "RESOURCE_EXHAUSTED", uerr.ErrorCode())
	assert.Equal(t, 5*time.Second, uerr.RetryAfter())
	assert.Contains(t, uerr.Error(), "exhausted")
}

func TestGenerateRetryAfterHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "overloaded")
	})

	_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})

	var uerr *Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusServiceUnavailable, uerr.StatusCode)
	assert.Equal(t, "Service Unavailable", uerr.Message)
	assert.Equal(t, 7*time.Second, uerr.RetryAfterHint)
}

func TestGenerateSafetyBlock(t *testing.T) {
	tests := map[string]string{
		"prompt blocked":   `{"promptFeedback":{"blockReason":"SAFETY"}}`,
		"candidate safety": `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			})

			_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})

			var uerr *Error
			require.ErrorAs(t, err, &uerr)
			assert.Equal(t, "SAFETY", uerr.Status)
			assert.Contains(t, uerr.Message, "safety")
		})
	}
}

func TestGenerateNoCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})

	_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})
	require.Error(t, err)

	var uerr *Error
	assert.False(t, errors.As(err, &uerr))
}

func TestGenerateTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewGeminiClient(GeminiConfig{BaseURL: url, APIKey: "k", Timeout: time.Second})
	_, err := client.Generate(context.Background(), Request{Model: "m", Prompt: "p"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream request")
}
