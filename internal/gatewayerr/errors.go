// Package gatewayerr defines the unified error taxonomy shared by every
// component in the gateway. Every error that can reach a caller carries a
// Kind, a provider (if the failure originated at a specific backend), and a
// Retryable bit — the router and retry engine dispatch on these fields
// instead of string-matching error messages.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error the way spec §7 requires: every kind maps to
// exactly one HTTP status and one retryable bit.
type Kind string

const (
	Auth                 Kind = "auth"
	BadRequest           Kind = "bad_request"
	NotFound             Kind = "not_found"
	RateLimit            Kind = "rate_limit"
	Timeout              Kind = "timeout"
	ProviderUnavailable  Kind = "provider_unavailable"
	Network              Kind = "network"
	UnsupportedFeature   Kind = "unsupported_feature"
	Config               Kind = "config"
	Internal             Kind = "internal"
)

// httpStatus and retryable are the two tables spec §7 defines. Keeping them
// as plain maps (rather than a method per Kind) means adding a Kind later is
// a one-line change in one place.
var httpStatus = map[Kind]int{
	Auth:                http.StatusUnauthorized,
	BadRequest:          http.StatusBadRequest,
	NotFound:            http.StatusNotFound,
	RateLimit:           http.StatusTooManyRequests,
	Timeout:             http.StatusRequestTimeout,
	ProviderUnavailable: http.StatusServiceUnavailable,
	Network:             http.StatusBadGateway,
	UnsupportedFeature:  http.StatusBadRequest,
	Config:              http.StatusInternalServerError,
	Internal:            http.StatusInternalServerError,
}

var retryableKinds = map[Kind]bool{
	RateLimit:           true,
	Timeout:             true,
	ProviderUnavailable: true,
	Network:             true,
}

// Error is the concrete error type every gateway component returns. Per the
// Design Note in spec §9, this is a closed struct rather than an interface
// hierarchy — callers type-assert with errors.As instead of a chain of
// concrete error types.
type Error struct {
	Kind       Kind
	Message    string
	Provider   string  // empty when the error has no single origin
	RetryAfter float64 // seconds; 0 means "no suggestion"
	Wrapped    error    // underlying cause, for %w unwrapping

	// LimitType and Remaining are populated on RateLimit errors: which
	// dimension tripped ("rpm", "tpm", "rpd", "concurrency") and the
	// caller's remaining headroom in that dimension at denial time.
	LimitType string
	Remaining int
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s (provider=%s)", e.Kind, e.Message, e.Provider)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// HTTPStatus returns the status code a handler should write for this error.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the retry engine (C7) may re-attempt this error.
func (e *Error) Retryable() bool {
	return retryableKinds[e.Kind]
}

// New builds a bare Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind and message to an underlying error, preserving it
// for errors.Unwrap / errors.Is chains.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// WithProvider sets the originating provider and returns the same Error for
// chaining, e.g. gatewayerr.New(...).WithProvider("anthropic").
func (e *Error) WithProvider(name string) *Error {
	e.Provider = name
	return e
}

// WithRetryAfter attaches a caller-suggested retry delay in seconds.
func (e *Error) WithRetryAfter(seconds float64) *Error {
	e.RetryAfter = seconds
	return e
}

// WithRateLimit attaches the dimension that tripped and the caller's
// remaining headroom in it, for a RateLimit error's 429 body.
func (e *Error) WithRateLimit(limitType string, remaining int) *Error {
	e.LimitType = limitType
	e.Remaining = remaining
	return e
}

// As reports whether err is (or wraps) a *Error, returning it for
// inspection. This is a thin convenience over errors.As so call sites don't
// need to declare the target variable inline every time.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// Body is the JSON shape every error response is serialized as, per spec §6.
type Body struct {
	Error BodyDetail `json:"error"`
}

// BodyDetail is the nested "error" object in Body.
type BodyDetail struct {
	Type             Kind    `json:"type"`
	Message          string  `json:"message"`
	Provider         string  `json:"provider,omitempty"`
	RetryAfter       float64 `json:"retry_after,omitempty"`
	LimitType        string  `json:"limit_type,omitempty"`
	RemainingRequests *int   `json:"remaining_requests,omitempty"`
}

// ToBody converts a gateway error into its wire representation. Non-gateway
// errors (a bare Go error that slipped through) are reported as Internal,
// with the error's own text as the message.
func ToBody(err error) (Body, int) {
	ge, ok := As(err)
	if !ok {
		ge = New(Internal, "%s", err.Error())
	}
	detail := BodyDetail{
		Type:       ge.Kind,
		Message:    ge.Message,
		Provider:   ge.Provider,
		RetryAfter: ge.RetryAfter,
	}
	if ge.Kind == RateLimit {
		detail.LimitType = ge.LimitType
		remaining := ge.Remaining
		detail.RemainingRequests = &remaining
	}
	return Body{Error: detail}, ge.HTTPStatus()
}
