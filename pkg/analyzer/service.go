// Package analyzer runs identification, analysis and extraction calls
// against the upstream model with retries, caching and error classification.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/kotoba/pkg/apierror"
	"github.com/pario-ai/kotoba/pkg/cache/lru"
	"github.com/pario-ai/kotoba/pkg/metrics"
	"github.com/pario-ai/kotoba/pkg/models"
	"github.com/pario-ai/kotoba/pkg/retry"
	"github.com/pario-ai/kotoba/pkg/router"
	"github.com/pario-ai/kotoba/pkg/upstream"
)

// DefaultMaxPhrases is used when an identification call gives no hint.
const DefaultMaxPhrases = 10

// Ledger stores terminal call outcomes.
type Ledger interface {
	Record(ctx context.Context, rec models.CallRecord) error
}

// Options configures a Service.
type Options struct {
	// Client returns the upstream client. It is called on every request so
	// the composition root can defer construction with lazy.New.
	Client     func() upstream.Client
	Router     *router.Router
	Cache      *lru.Cache[json.RawMessage] // nil disables caching
	Ledger     Ledger                      // optional
	Logger     *zap.Logger
	Classifier apierror.Classifier
	// Coalesce shares one upstream call between concurrent identical
	// analysis misses.
	Coalesce bool
	Sleep    retry.SleepFunc
}

// Service is the resilient call orchestrator.
type Service struct {
	client     func() upstream.Client
	router     *router.Router
	cache      *lru.Cache[json.RawMessage]
	ledger     Ledger
	logger     *zap.Logger
	classifier apierror.Classifier
	coalesce   bool
	sleep      retry.SleepFunc
	group      singleflight.Group
}

// New creates a Service.
func New(opts Options) *Service {
	s := &Service{
		client:     opts.Client,
		router:     opts.Router,
		cache:      opts.Cache,
		ledger:     opts.Ledger,
		logger:     opts.Logger,
		classifier: opts.Classifier,
		coalesce:   opts.Coalesce,
		sleep:      opts.Sleep,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.sleep == nil {
		s.sleep = retry.Sleep
	}
	return s
}

// call is the result of one resilient upstream call.
type call struct {
	resp     *upstream.Response
	model    string
	attempts int
}

// Identify finds phrases in a PNG screenshot. Results are never cached.
func (s *Service) Identify(ctx context.Context, image []byte, maxPhrases int) (*models.IdentifyResult, error) {
	if maxPhrases <= 0 {
		maxPhrases = DefaultMaxPhrases
	}
	start := time.Now()
	rec := models.CallRecord{Operation: models.OpIdentify}

	c, err := s.invoke(ctx, models.OpIdentify, upstream.Request{
		Prompt: buildIdentifyPrompt(maxPhrases),
		Image:  image,
		JSON:   true,
		Schema: identifySchema(),
	})
	var result models.IdentifyResult
	if err == nil {
		err = decodeJSON(c.resp.Text, &result)
	}
	if err != nil {
		return nil, s.fail(ctx, rec, c, start, err)
	}

	if len(result.Phrases) > maxPhrases {
		result.Phrases = result.Phrases[:maxPhrases]
	}
	if result.Phrases == nil {
		result.Phrases = []models.Phrase{}
	}
	s.succeed(ctx, rec, c, start, models.OutcomeSuccess)
	return &result, nil
}

// ExtractText transcribes the text in an image. Results are never cached.
func (s *Service) ExtractText(ctx context.Context, image []byte) (*models.ExtractResult, error) {
	start := time.Now()
	rec := models.CallRecord{Operation: models.OpExtract}

	c, err := s.invoke(ctx, models.OpExtract, upstream.Request{
		Prompt: buildExtractPrompt(),
		Image:  image,
		JSON:   true,
		Schema: extractSchema(),
	})
	var result models.ExtractResult
	if err == nil {
		err = decodeJSON(c.resp.Text, &result)
	}
	if err != nil {
		return nil, s.fail(ctx, rec, c, start, err)
	}

	if len(result.Lines) == 0 && result.Text != "" {
		for _, line := range strings.Split(result.Text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				result.Lines = append(result.Lines, line)
			}
		}
	}
	if result.Lines == nil {
		result.Lines = []string{}
	}
	s.succeed(ctx, rec, c, start, models.OutcomeSuccess)
	return &result, nil
}

// Analyze explains a phrase. Successful results are cached by phrase, type
// and context; the optional image never affects the key.
func (s *Service) Analyze(ctx context.Context, req models.AnalyzeRequest) (json.RawMessage, error) {
	start := time.Now()
	rec := models.CallRecord{Operation: models.OpAnalyze, AnalysisType: string(req.Type)}
	key := lru.GenerateKey(req.Phrase, string(req.Type), req.Context)

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			metrics.RecordCacheHit()
			s.succeed(ctx, rec, call{}, start, models.OutcomeCacheHit)
			return v, nil
		}
		metrics.RecordCacheMiss()
	}

	fetch := func() (call, json.RawMessage, error) {
		c, err := s.invoke(ctx, models.OpAnalyze, upstream.Request{
			Prompt: buildAnalyzePrompt(req),
			Image:  req.Image,
			JSON:   true,
		})
		if err != nil {
			return c, nil, err
		}
		raw := json.RawMessage(stripFences(c.resp.Text))
		if !json.Valid(raw) {
			return c, nil, fmt.Errorf("decode model response: invalid JSON")
		}
		if s.cache != nil {
			s.cache.Set(key, raw)
		}
		return c, raw, nil
	}

	var (
		c   call
		raw json.RawMessage
		err error
	)
	if s.coalesce {
		c, raw, err = s.fetchShared(key, fetch)
	} else {
		c, raw, err = fetch()
	}
	if err != nil {
		return nil, s.fail(ctx, rec, c, start, err)
	}
	s.succeed(ctx, rec, c, start, models.OutcomeSuccess)
	return raw, nil
}

type shared struct {
	call call
	raw  json.RawMessage
}

// fetchShared runs fetch once per key across concurrent callers. Only the
// caller that ran fetch reports its attempts.
func (s *Service) fetchShared(key string, fetch func() (call, json.RawMessage, error)) (call, json.RawMessage, error) {
	leader := false
	v, err, _ := s.group.Do(key, func() (any, error) {
		leader = true
		c, raw, err := fetch()
		return shared{call: c, raw: raw}, err
	})
	res, _ := v.(shared)
	if !leader {
		res.call.attempts = 0
	}
	return res.call, res.raw, err
}

// invoke resolves the route for op and runs one upstream call through the
// retry engine. Panics from the client are recovered as unknown server
// errors whatever their message says.
func (s *Service) invoke(ctx context.Context, op models.Operation, req upstream.Request) (c call, err error) {
	route, err := s.router.Resolve(op)
	if err != nil {
		return c, err
	}
	c.model = route.Model
	req.Model = route.Model
	if req.Temperature == nil {
		req.Temperature = route.Temperature
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("upstream call panicked",
				zap.String("operation", string(op)),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			aerr := apierror.New(apierror.UnknownServerError, op, fmt.Errorf("upstream call panicked: %v", r))
			if s.classifier.ExposeDetails {
				aerr.Detail = fmt.Sprint(r)
			}
			err = aerr
		}
	}()

	client := s.client()
	c.resp, err = retry.Do(ctx, route.Policy, func(ctx context.Context) (*upstream.Response, error) {
		c.attempts++
		return client.Generate(ctx, req)
	},
		retry.WithSleep(s.sleep),
		retry.WithLogger(s.logger.With(zap.String("operation", string(op)))),
		retry.WithOnRetry(func(retry.Attempt) { metrics.RecordRetry(string(op)) }),
	)
	return c, err
}

func (s *Service) succeed(ctx context.Context, rec models.CallRecord, c call, start time.Time, outcome string) {
	rec.Outcome = outcome
	s.finish(ctx, rec, c, start)
}

func (s *Service) fail(ctx context.Context, rec models.CallRecord, c call, start time.Time, err error) *apierror.Error {
	aerr := s.classifier.Classify(err, rec.Operation)
	rec.Outcome = models.OutcomeError
	rec.Category = string(aerr.Category)
	metrics.RecordError(rec.Category)

	s.logger.Warn("upstream call failed",
		zap.String("request_id", RequestID(ctx)),
		zap.String("operation", string(rec.Operation)),
		zap.String("category", rec.Category),
		zap.Int("attempts", c.attempts),
		zap.Error(err),
	)
	s.finish(ctx, rec, c, start)
	return aerr
}

func (s *Service) finish(ctx context.Context, rec models.CallRecord, c call, start time.Time) {
	latency := time.Since(start)
	// cache hits never reach upstream and are counted by the cache metrics
	if rec.Outcome != models.OutcomeCacheHit {
		metrics.RecordCall(string(rec.Operation), rec.Outcome, latency)
	}

	if s.ledger == nil {
		return
	}
	rec.RequestID = RequestID(ctx)
	rec.Model = c.model
	rec.Attempts = c.attempts
	rec.LatencyMs = latency.Milliseconds()
	rec.CreatedAt = time.Now()
	if c.resp != nil {
		rec.PromptTokens = c.resp.Usage.PromptTokens
		rec.CompletionTokens = c.resp.Usage.CandidateTokens
		rec.TotalTokens = c.resp.Usage.TotalTokens
	}
	if err := s.ledger.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("record call", zap.Error(err))
	}
}

// CacheStats reports the analysis cache counters.
func (s *Service) CacheStats() models.CacheStats {
	if s.cache == nil {
		return models.CacheStats{}
	}
	return s.cache.Stats()
}

// ClearCache empties the analysis cache and resets its counters.
func (s *Service) ClearCache() {
	if s.cache == nil {
		return
	}
	s.cache.Clear()
	s.logger.Info("analysis cache cleared")
}

func decodeJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(stripFences(text)), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}
