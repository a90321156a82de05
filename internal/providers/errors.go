package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind classifies provider failures for the retry and fallback
// wrappers.
type ErrorKind string

const (
	// KindRateLimited indicates throttling (HTTP 429). Retried with backoff,
	// honoring a retry-after hint when the server sends one.
	KindRateLimited ErrorKind = "rate_limited"

	// KindServerError indicates server-side failure (HTTP 5xx). Retried.
	KindServerError ErrorKind = "server_error"

	// KindContextOverflow indicates the request exceeded the model's context
	// window. The agent loop answers with context reduction, not a retry.
	KindContextOverflow ErrorKind = "context_overflow"

	// KindAuthFailed indicates bad credentials (HTTP 401/403). Fails over.
	KindAuthFailed ErrorKind = "auth_failed"

	// KindBadRequest indicates a malformed request (HTTP 400), likely a
	// caller bug. Surfaced immediately.
	KindBadRequest ErrorKind = "bad_request"

	// KindNetwork indicates a transport-level failure. Fails over.
	KindNetwork ErrorKind = "network"
)

// Retryable reports whether the retry wrapper should attempt again.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindServerError
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Model    string
	Status   int

	// RetryAfter carries the server's retry-after hint for rate limits.
	RetryAfter time.Duration

	// TokensOver estimates how far over the context window the request was.
	TokensOver int

	Message string
	Cause   error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError extracts a classified provider error from an error chain.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// KindOf returns the classified kind for any error, falling back to textual
// classification for errors that did not come through a base provider.
func KindOf(err error) ErrorKind {
	if perr, ok := AsError(err); ok {
		return perr.Kind
	}
	return classifyText(err)
}

// wrap builds a classified error from a raw SDK or transport error.
func wrap(provider, model string, status int, err error) *Error {
	perr := &Error{
		Provider: provider,
		Model:    model,
		Status:   status,
		Cause:    err,
	}
	if err != nil {
		perr.Message = err.Error()
	}
	if status != 0 {
		perr.Kind = classifyStatus(status)
	} else {
		perr.Kind = classifyText(err)
	}
	if perr.Kind == KindBadRequest && looksLikeContextOverflow(perr.Message) {
		perr.Kind = KindContextOverflow
	}
	return perr
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthFailed
	case status == http.StatusBadRequest:
		return KindBadRequest
	case status >= 500:
		return KindServerError
	default:
		return KindNetwork
	}
}

func classifyText(err error) ErrorKind {
	if err == nil {
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case looksLikeContextOverflow(msg):
		return KindContextOverflow
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return KindRateLimited
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication") || strings.Contains(msg, "401") ||
		strings.Contains(msg, "403"):
		return KindAuthFailed
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server") || strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") || strings.Contains(msg, "overloaded"):
		return KindServerError
	case strings.Contains(msg, "invalid request") || strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "400"):
		return KindBadRequest
	default:
		return KindNetwork
	}
}

func looksLikeContextOverflow(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "context length") ||
		strings.Contains(msg, "context_length") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "too many tokens")
}
