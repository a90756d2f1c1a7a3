// Package retry wraps upstream calls with classification-driven
// exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/kotoba/pkg/failure"
)

const defaultMessage = "upstream request failed"

// Policy controls how often and how fast a call is retried.
type Policy struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          32 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1, got %v", p.BackoffMultiplier)
	}
	return nil
}

// Attempt describes a retry that is about to happen.
type Attempt struct {
	// Number is the 0-based index of the attempt about to run.
	Number  int
	Delay   time.Duration
	LastErr error
}

// Error is the single normalized failure raised once the engine gives up.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Attempts   int
	Transient  bool

	err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// HTTPStatus implements failure.Statuser.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// ErrorCode implements failure.Coder.
func (e *Error) ErrorCode() string {
	return e.Code
}

// Kind is the engine's view of a failure.
type Kind int

const (
	// Terminal failures stop the engine without a retry.
	Terminal Kind = iota
	// Transient failures are retried while retries remain.
	Transient
	// Permanent failures are known client errors; they also stop the engine.
	Permanent
)

var (
	transientStatus = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusInternalServerError: true,
		http.StatusServiceUnavailable:  true,
	}
	permanentStatus = map[int]bool{
		http.StatusBadRequest:   true,
		http.StatusUnauthorized: true,
		http.StatusForbidden:    true,
		http.StatusNotFound:     true,
	}
	transientCodes = map[string]bool{
		failure.CodeTimedOut:  true,
		failure.CodeConnReset: true,
		failure.CodeNotFound:  true,
	}
	transientPatterns = []string{
		"timeout", "timed out", "deadline exceeded",
		"econnreset", "connection reset",
		"enotfound", "no such host",
		"etimedout",
	}
)

// Classify decides whether a raw failure is worth retrying.
// Permanent statuses are checked first.
func Classify(sig failure.Signals) Kind {
	if permanentStatus[sig.Status] {
		return Permanent
	}
	if transientStatus[sig.Status] || transientCodes[sig.Code] {
		return Transient
	}
	msg := strings.ToLower(sig.Message)
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return Transient
		}
	}
	return Terminal
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a single Do call.
type Option func(*runner)

// WithSleep replaces the wall-clock wait, mainly for tests.
func WithSleep(fn SleepFunc) Option {
	return func(r *runner) { r.sleep = fn }
}

// WithLogger logs each scheduled retry.
func WithLogger(l *zap.Logger) Option {
	return func(r *runner) { r.logger = l }
}

// WithOnRetry is called before every wait.
func WithOnRetry(fn func(Attempt)) Option {
	return func(r *runner) { r.onRetry = fn }
}

type runner struct {
	sleep   SleepFunc
	logger  *zap.Logger
	onRetry func(Attempt)
}

// Do runs op, retrying transient failures according to p. Attempt 0 runs
// immediately. The returned error is always a *Error.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	r := runner{sleep: Sleep, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&r)
	}

	var zero T
	delay := p.InitialDelay

	for attempt := 0; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		sig := failure.Inspect(err)
		kind := Classify(sig)
		if kind != Transient || attempt >= p.MaxRetries {
			return zero, normalize(err, sig, attempt+1, kind == Transient)
		}

		wait := delay
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if sig.RetryAfter > 0 {
			wait = sig.RetryAfter
		}

		next := Attempt{Number: attempt + 1, Delay: wait, LastErr: err}
		r.logger.Warn("retrying upstream call",
			zap.Int("attempt", next.Number),
			zap.Int("max_retries", p.MaxRetries),
			zap.Duration("delay", wait),
			zap.Error(err),
		)
		if r.onRetry != nil {
			r.onRetry(next)
		}

		if err := r.sleep(ctx, wait); err != nil {
			return zero, normalize(err, failure.Inspect(err), attempt+1, false)
		}

		delay = p.next(delay)
	}
}

// next grows delay by the multiplier without passing MaxDelay or
// overflowing.
func (p Policy) next(delay time.Duration) time.Duration {
	limit := time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		limit = p.MaxDelay
	}
	if delay >= limit {
		return limit
	}
	grown := float64(delay) * p.BackoffMultiplier
	if grown >= float64(limit) {
		return limit
	}
	return time.Duration(grown)
}

func normalize(err error, sig failure.Signals, attempts int, transient bool) *Error {
	e := &Error{
		StatusCode: sig.Status,
		Code:       sig.Code,
		Message:    sig.Message,
		Attempts:   attempts,
		Transient:  transient,
		err:        err,
	}
	if e.StatusCode == 0 {
		e.StatusCode = http.StatusInternalServerError
	}
	if e.Message == "" {
		e.Message = defaultMessage
	}
	return e
}

// Sleep waits for d, returning early with ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
