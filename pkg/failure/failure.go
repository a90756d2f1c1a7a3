// Package failure extracts the loosely structured signals (status, code,
// message, retry hint) that upstream failures carry.
package failure

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// Transport-level failure codes surfaced by Inspect.
const (
	CodeConnRefused = "ECONNREFUSED"
	CodeConnReset   = "ECONNRESET"
	CodeNotFound    = "ENOTFOUND"
	CodeTimedOut    = "ETIMEDOUT"
)

// Signals is what could be observed about a failure. Any field may be zero.
type Signals struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

// Statuser is implemented by errors carrying an HTTP-like status code.
type Statuser interface {
	HTTPStatus() int
}

// Coder is implemented by errors carrying a symbolic code.
type Coder interface {
	ErrorCode() string
}

// RetryHinter is implemented by errors carrying an upstream wait hint.
type RetryHinter interface {
	RetryAfter() time.Duration
}

// Inspect walks err's chain and collects whatever signals it exposes.
// The outermost implementer of each interface wins.
func Inspect(err error) Signals {
	if err == nil {
		return Signals{}
	}

	s := Signals{Message: err.Error()}

	var st Statuser
	if errors.As(err, &st) {
		s.Status = st.HTTPStatus()
	}

	var c Coder
	if errors.As(err, &c) {
		s.Code = c.ErrorCode()
	}
	if s.Code == "" {
		s.Code = transportCode(err)
	}

	var h RetryHinter
	if errors.As(err, &h) {
		s.RetryAfter = h.RetryAfter()
	}

	if s.Status == 0 && s.Code != "" {
		if n, convErr := strconv.Atoi(s.Code); convErr == nil {
			s.Status = n
		}
	}
	return s
}

func transportCode(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimedOut
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeTimedOut
		}
		return CodeNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}
	return ""
}
