package apierror

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pario-ai/kotoba/pkg/failure"
	"github.com/pario-ai/kotoba/pkg/models"
)

// Classifier turns raw failures into categorized errors.
//
// Rules are evaluated in a fixed order and the first match wins:
// auth, quota, content safety, network, timeout, client error, unknown.
// Upstream SDKs rarely expose a structured taxonomy, so most rules also
// match on lowercase substrings of the failure message. Security-relevant
// categories come first so that a failure matching several rules leaks
// as little as possible.
type Classifier struct {
	// ExposeDetails attaches the raw failure message to unknown errors.
	// Only development deployments set it.
	ExposeDetails bool
}

type rule struct {
	category Category
	match    func(failure.Signals, string) bool
}

var rules = []rule{
	{AuthUnavailable, isAuth},
	{QuotaExceeded, isQuota},
	{ContentFiltered, isContentFiltered},
	{NetworkUnavailable, isNetwork},
	{Timeout, isTimeout},
	{PermanentClientError, isClientError},
}

// Classify categorizes err for the given operation. An err that is
// already classified is returned unchanged.
func (c Classifier) Classify(err error, op models.Operation) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	sig := failure.Inspect(err)
	msg := strings.ToLower(sig.Message)

	for _, r := range rules {
		if r.match(sig, msg) {
			return New(r.category, op, err)
		}
	}

	e := New(UnknownServerError, op, err)
	if c.ExposeDetails && err != nil {
		e.Detail = sig.Message
	}
	return e
}

// Classify categorizes err with details suppressed.
func Classify(err error, op models.Operation) *Error {
	return Classifier{}.Classify(err, op)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func isAuth(sig failure.Signals, msg string) bool {
	if sig.Status == http.StatusUnauthorized || sig.Status == http.StatusForbidden {
		return true
	}
	switch sig.Code {
	case "UNAUTHENTICATED", "PERMISSION_DENIED", "API_KEY_INVALID":
		return true
	}
	return containsAny(msg,
		"api key", "api_key", "apikey",
		"unauthenticated", "unauthorized",
		"invalid credential", "missing credential",
	)
}

func isQuota(sig failure.Signals, msg string) bool {
	if sig.Status == http.StatusTooManyRequests || sig.Code == "RESOURCE_EXHAUSTED" {
		return true
	}
	return containsAny(msg, "quota", "rate limit", "rate-limit", "ratelimit", "resource exhausted", "too many requests")
}

func isContentFiltered(sig failure.Signals, msg string) bool {
	switch sig.Code {
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return true
	}
	return containsAny(msg, "safety", "content filter", "blocked", "filtered")
}

func isNetwork(sig failure.Signals, msg string) bool {
	switch sig.Code {
	case failure.CodeConnRefused, failure.CodeNotFound, "EAI_AGAIN":
		return true
	}
	return containsAny(msg, "connection refused", "no such host", "enotfound", "econnrefused")
}

func isTimeout(sig failure.Signals, msg string) bool {
	if sig.Status == http.StatusGatewayTimeout || sig.Status == http.StatusRequestTimeout {
		return true
	}
	switch sig.Code {
	case failure.CodeTimedOut, "DEADLINE_EXCEEDED":
		return true
	}
	return containsAny(msg, "timeout", "timed out", "deadline exceeded")
}

func isClientError(sig failure.Signals, _ string) bool {
	switch sig.Status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
