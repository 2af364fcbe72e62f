// Package apperr defines the typed error kinds shared across the platform and
// their mapping to HTTP status codes at the transport edge.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping and event reporting.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthRequired
	KindInvalidCredentials
	KindNotFound
	KindInsufficientBalance
	KindInsufficientLiquidity
	KindZeroOutput
	KindRateLimited
	KindSafetyBlocked
	KindVenueError
	KindTimeout
	KindConflict
	KindBadInput
	KindCryptographic
)

func (k Kind) String() string {
	switch k {
	case KindAuthRequired:
		return "AUTH_REQUIRED"
	case KindInvalidCredentials:
		return "INVALID_CREDENTIALS"
	case KindNotFound:
		return "NOT_FOUND"
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindInsufficientLiquidity:
		return "INSUFFICIENT_LIQUIDITY"
	case KindZeroOutput:
		return "ZERO_OUTPUT"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindSafetyBlocked:
		return "SAFETY_BLOCKED"
	case KindVenueError:
		return "VENUE_ERROR"
	case KindTimeout:
		return "TIMEOUT"
	case KindConflict:
		return "CONFLICT"
	case KindBadInput:
		return "BAD_INPUT"
	case KindCryptographic:
		return "CRYPTOGRAPHIC"
	default:
		return "INTERNAL"
	}
}

// Error is an error carrying a Kind plus optional venue detail.
type Error struct {
	Kind    Kind
	Message string
	Status  int    // venue HTTP status, when Kind == KindVenueError
	Payload string // decoded venue response body, when present
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Venue creates a venue error carrying the remote status and body.
func Venue(status int, payload string) *Error {
	return &Error{
		Kind:    KindVenueError,
		Message: fmt.Sprintf("venue returned status %d", status),
		Status:  status,
		Payload: payload,
	}
}

// KindOf extracts the Kind from an error chain; unknown errors are internal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error kind to the externally visible status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthRequired, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindSafetyBlocked:
		return http.StatusForbidden
	case KindBadInput, KindInsufficientBalance, KindInsufficientLiquidity, KindZeroOutput:
		return http.StatusBadRequest
	case KindVenueError:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
