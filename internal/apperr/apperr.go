// Package apperr defines the failure kinds shared by agents, the chatbot and
// the HTTP layer.
package apperr

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrUnauthenticated marks calls made without a resolved user.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidRequest marks malformed input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstreamUnavailable marks a failing retrieval collaborator.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrGenerationFailed marks both model backends failing.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrConflict marks a uniqueness conflict.
	ErrConflict = errors.New("conflict")
	// ErrRateLimited is matched by RateLimitError through errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError reports a denied admission and when to retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

// NewRateLimitError constructs a RateLimitError with a non-negative delay.
func NewRateLimitError(retryAfter time.Duration) *RateLimitError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &RateLimitError{RetryAfter: retryAfter}
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded, retry after " + strconv.Itoa(e.RetrySeconds()) + "s"
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetrySeconds rounds RetryAfter up to whole seconds.
func (e *RateLimitError) RetrySeconds() int {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}

// StatusCode returns the HTTP status for a rate limited call.
func (e *RateLimitError) StatusCode() int {
	return http.StatusTooManyRequests
}

// Headers returns the response headers for a rate limited call.
func (e *RateLimitError) Headers() http.Header {
	headers := make(http.Header)
	headers.Set("Retry-After", strconv.Itoa(e.RetrySeconds()))
	return headers
}

// InvalidRequest wraps msg so it matches ErrInvalidRequest.
func InvalidRequest(msg string) error {
	return &detailError{kind: ErrInvalidRequest, msg: msg}
}

type detailError struct {
	kind error
	msg  string
}

func (e *detailError) Error() string { return e.msg }

func (e *detailError) Unwrap() error { return e.kind }

// StatusCode maps an error to the HTTP status callers should see.
func StatusCode(err error) int {
	var rl *RateLimitError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &rl):
		return rl.StatusCode()
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message safe to show to API clients.
func PublicMessage(err error) string {
	var rl *RateLimitError
	var detail *detailError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rl):
		return rl.Error()
	case errors.As(err, &detail):
		return detail.msg
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrConflict):
		return "resource already exists"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "device catalog is temporarily unavailable"
	case errors.Is(err, ErrGenerationFailed):
		return "failed to generate a response, please try again"
	default:
		return "internal server error"
	}
}
