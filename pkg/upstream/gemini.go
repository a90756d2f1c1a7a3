package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	cfg  GeminiConfig
	http *http.Client
}

// NewGeminiClient creates a client. An empty APIKey is allowed here and
// reported as an auth failure on first use.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	return &GeminiClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature        *float64        `json:"temperature,omitempty"`
	ResponseMimeType   string          `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

type geminiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

var blockedFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(req.Model) + ":generateContent"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp, respBody)
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return toResponse(&gr)
}

func buildGeminiRequest(req Request) geminiRequest {
	parts := []geminiPart{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		mime := req.ImageMIME
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	gr := geminiRequest{Contents: []geminiContent{{Role: "user", Parts: parts}}}
	if req.Temperature != nil || req.JSON {
		gr.GenerationConfig = &geminiGenerationConfig{Temperature: req.Temperature}
		if req.JSON {
			gr.GenerationConfig.ResponseMimeType = "application/json"
			gr.GenerationConfig.ResponseJSONSchema = req.Schema
		}
	}
	return gr
}

func toResponse(gr *geminiResponse) (*Response, error) {
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return nil, &Error{
			StatusCode: http.StatusBadRequest,
			Status:     "SAFETY",
			Message:    "prompt blocked by content safety filter: " + gr.PromptFeedback.BlockReason,
		}
	}
	if len(gr.Candidates) == 0 {
		return nil, fmt.Errorf("upstream returned no candidates")
	}

	cand := gr.Candidates[0]
	if blockedFinishReasons[cand.FinishReason] {
		return nil, &Error{
			StatusCode: http.StatusBadRequest,
			Status:     "SAFETY",
			Message:    "response blocked by content safety filter: " + cand.FinishReason,
		}
	}

	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}

	out := &Response{Text: text.String(), FinishReason: cand.FinishReason}
	if u := gr.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:    u.PromptTokenCount,
			CandidateTokens: u.CandidatesTokenCount,
			TotalTokens:     u.TotalTokenCount,
		}
	}
	return out, nil
}

func decodeError(resp *http.Response, body []byte) *Error {
	e := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var env geminiErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		e.Message = env.Error.Message
		e.Status = env.Error.Status
		for _, d := range env.Error.Details {
			if d.RetryDelay == "" {
				continue
			}
			if hint, err := time.ParseDuration(d.RetryDelay); err == nil {
				e.RetryAfterHint = hint
			}
		}
	}

	if e.RetryAfterHint == 0 {
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			e.RetryAfterHint = time.Duration(secs) * time.Second
		}
	}
	return e
}
