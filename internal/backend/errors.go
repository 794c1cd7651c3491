package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Common backend errors
var (
	// ErrUnknownBackend indicates no backend is registered under an id
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrEmptyText indicates synthesis was requested for blank text
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrUnsupportedStyle indicates a style name is not recognised
	ErrUnsupportedStyle = errors.New("unsupported style")

	// ErrUnknownVoice indicates a voice name could not be resolved
	ErrUnknownVoice = errors.New("unknown voice")

	// ErrMissingCredentials indicates a backend was configured without a key
	ErrMissingCredentials = errors.New("missing credentials")
)

// Kind classifies a provider failure.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindRateLimit   Kind = "rate_limit"
	KindQuota       Kind = "quota"
	KindMalformed   Kind = "malformed"
	KindNetwork     Kind = "network"
	KindProvider    Kind = "provider"
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
)

// Error is a provider failure mapped into the shared taxonomy.
type Error struct {
	Backend string
	Kind    Kind
	Status  int // HTTP status, 0 when no response was received
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (%d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindProvider, KindTimeout:
		return true
	default:
		return false
	}
}

// IsKind reports whether err is a backend *Error of kind k.
func IsKind(err error, k Kind) bool {
	var be *Error
	return errors.As(err, &be) && be.Kind == k
}

// classifyStatus maps an HTTP status code to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusPaymentRequired:
		return KindQuota
	case status == http.StatusBadRequest, status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge:
		return KindMalformed
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusServiceUnavailable:
		return KindUnavailable
	case status >= 500:
		return KindProvider
	default:
		return KindProvider
	}
}

func statusError(backend string, status int, message string) *Error {
	return &Error{Backend: backend, Kind: classifyStatus(status), Status: status, Message: message}
}

// transportError maps a failure that produced no HTTP response.
func transportError(backend string, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindUnavailable
	}
	return &Error{Backend: backend, Kind: kind, Err: err}
}
