package core

import (
	"errors"
	"fmt"
)

// HINTS carries the fixed, stable advisory strings referenced by
// PolluxError.Hint and surfaced to callers. Keys and string values are
// part of the public contract — do not reword them.
var HINTS = map[string]string{
	"missing_api_key": "Set <PROVIDER>_API_KEY environment variable or pass api_key explicitly.",
	"http_401":        "Verify GEMINI_API_KEY is valid.",
	"http_429":        "Rate limit exceeded; wait and retry.",
}

// GetHTTPErrorHint maps an HTTP status code to a stable advisory hint.
// Returns "" when no hint is registered for the code.
func GetHTTPErrorHint(statusCode int) string {
	switch statusCode {
	case 401:
		return HINTS["http_401"]
	case 429:
		return HINTS["http_429"]
	default:
		return ""
	}
}

// RetryableStatusCodes is the fixed set of HTTP statuses the retry
// matrix treats as transient.
var RetryableStatusCodes = map[int]bool{
	408: true, 409: true, 429: true,
	500: true, 502: true, 503: true, 504: true,
}

// PolluxError is the root of the error taxonomy. Every Pollux-specific
// error embeds it (by value, via the Kind discriminator) rather than
// forming a Go type hierarchy, since Go has no classical inheritance —
// Kind plus the Is* helpers below reproduce the taxonomy's
// isinstance-style checks.
type PolluxError struct {
	Kind string // "configuration" | "source" | "file" | "unsupported_content" |
	// "validation" | "pipeline" | "invariant_violation" | "api" | "rate_limit" | "cache"
	Op  string // operation that failed, e.g. "SourceHandler.handle"
	Msg string

	Hint        string
	Retryable   *bool
	StatusCode  *int
	RetryAfterS *float64
	Provider    string
	Phase       string
	CallIdx     *int

	Err error
}

func (e *PolluxError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *PolluxError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is retryable: a status code in
// RetryableStatusCodes, or an APIError explicitly marked Retryable.
func IsRetryable(err error) bool {
	var pe *PolluxError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode != nil && RetryableStatusCodes[*pe.StatusCode] {
		return true
	}
	return pe.Retryable != nil && *pe.Retryable
}

func boolPtr(b bool) *bool      { return &b }
func intPtr(i int) *int         { return &i }
func f64Ptr(f float64) *float64 { return &f }

// ErrorOption customizes a constructed *PolluxError.
type ErrorOption func(*PolluxError)

func WithHint(hint string) ErrorOption { return func(e *PolluxError) { e.Hint = hint } }
func WithRetryable(retryable bool) ErrorOption {
	return func(e *PolluxError) { e.Retryable = boolPtr(retryable) }
}
func WithStatusCode(code int) ErrorOption { return func(e *PolluxError) { e.StatusCode = intPtr(code) } }
func WithRetryAfterS(seconds float64) ErrorOption {
	return func(e *PolluxError) { e.RetryAfterS = f64Ptr(seconds) }
}
func WithProvider(provider string) ErrorOption { return func(e *PolluxError) { e.Provider = provider } }
func WithPhase(phase string) ErrorOption       { return func(e *PolluxError) { e.Phase = phase } }
func WithCallIdx(idx int) ErrorOption          { return func(e *PolluxError) { e.CallIdx = intPtr(idx) } }
func WithWrapped(err error) ErrorOption        { return func(e *PolluxError) { e.Err = err } }

func newError(kind, msg string, opts ...ErrorOption) *PolluxError {
	e := &PolluxError{Kind: kind, Msg: msg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("configuration", msg, opts...)
}

// NewSourceError builds a SourceError (file-typed source pointing at a
// non-existent or unreadable path).
func NewSourceError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("source", msg, opts...)
}

// NewFileError builds a FileError.
func NewFileError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("file", msg, opts...)
}

// NewUnsupportedContentError builds an UnsupportedContentError (MIME
// could not be determined and the provider requires it).
func NewUnsupportedContentError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("unsupported_content", msg, opts...)
}

// NewValidationError builds a ValidationError.
func NewValidationError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("validation", msg, opts...)
}

// NewPipelineError builds a PipelineError (generic per-stage failure).
func NewPipelineError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("pipeline", msg, opts...)
}

// NewInvariantViolationError builds an InvariantViolationError, raised
// by Validate when POLLUX_PIPELINE_VALIDATE=1 catches a contract
// violation at a stage boundary.
func NewInvariantViolationError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("invariant_violation", msg, opts...)
}

// NewAPIError builds an APIError (a provider call failure).
func NewAPIError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("api", msg, opts...)
}

// NewRateLimitError builds a RateLimitError, a specialization of APIError.
func NewRateLimitError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("rate_limit", msg, opts...)
}

// NewCacheError builds a CacheError, a specialization of APIError.
// Cache creation failures built with this constructor are always
// recovered by CacheStage: never propagated as a terminal pipeline
// failure.
func NewCacheError(msg string, opts ...ErrorOption) *PolluxError {
	return newError("cache", msg, opts...)
}

// IsAPIError reports whether err is an APIError or one of its
// specializations (RateLimitError, CacheError), mirroring the
// taxonomy's subclass-catchable-as-parent behavior.
func IsAPIError(err error) bool {
	var pe *PolluxError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == "api" || pe.Kind == "rate_limit" || pe.Kind == "cache"
}
