// Package apierror maps raw upstream failures onto the fixed set of
// caller-facing error categories.
package apierror

import (
	"fmt"
	"net/http"

	"github.com/pario-ai/kotoba/pkg/models"
)

// Category is a stable, caller-facing error code.
type Category string

const (
	AuthUnavailable      Category = "AUTH_UNAVAILABLE"
	QuotaExceeded        Category = "QUOTA_EXCEEDED"
	ContentFiltered      Category = "CONTENT_FILTERED"
	NetworkUnavailable   Category = "NETWORK_UNAVAILABLE"
	Timeout              Category = "TIMEOUT"
	PermanentClientError Category = "PERMANENT_CLIENT_ERROR"
	UnknownServerError   Category = "UNKNOWN_SERVER_ERROR"
)

// Categories lists every category in classification order.
var Categories = []Category{
	AuthUnavailable,
	QuotaExceeded,
	ContentFiltered,
	NetworkUnavailable,
	Timeout,
	PermanentClientError,
	UnknownServerError,
}

// StatusCode is the HTTP status surfaced for the category.
func (c Category) StatusCode() int {
	switch c {
	case AuthUnavailable, QuotaExceeded, NetworkUnavailable:
		return http.StatusServiceUnavailable
	case ContentFiltered, PermanentClientError:
		return http.StatusBadRequest
	case Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message never contains upstream text;
// Detail does and is only populated when details are exposed.
type Error struct {
	Category   Category
	Retryable  bool
	StatusCode int
	Message    string
	Detail     string
	Operation  models.Operation

	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the raw failure that was classified.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus implements failure.Statuser.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// Body renders the error for the response envelope.
func (e *Error) Body() *models.ErrorBody {
	return &models.ErrorBody{
		Code:    string(e.Category),
		Message: e.Message,
		Details: e.Detail,
	}
}

// New builds an Error for a category with its standard message.
func New(cat Category, op models.Operation, cause error) *Error {
	return &Error{
		Category:   cat,
		StatusCode: cat.StatusCode(),
		Message:    message(cat, op),
		Operation:  op,
		cause:      cause,
	}
}

func message(cat Category, op models.Operation) string {
	switch cat {
	case AuthUnavailable:
		return "The analysis service is temporarily unavailable. Please try again later."
	case QuotaExceeded:
		return "The analysis service is receiving too many requests. Please try again in a few moments."
	case ContentFiltered:
		return "The content could not be processed because it was flagged by safety filters."
	case NetworkUnavailable:
		return "Unable to reach the analysis service. Please try again later."
	case Timeout:
		switch op {
		case models.OpIdentify:
			return "Phrase identification timed out. Please try again with a smaller image."
		case models.OpExtract:
			return "Text extraction timed out. Please try again with a clearer or smaller image."
		default:
			return "Phrase analysis timed out. Please try again."
		}
	case PermanentClientError:
		return "The request was rejected by the analysis service."
	default:
		return fmt.Sprintf("Failed to %s", op.Label())
	}
}
