package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("wrap: %w", NewRateLimitError(time.Second)), http.StatusTooManyRequests},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{InvalidRequest("budget must be non-negative"), http.StatusBadRequest},
		{fmt.Errorf("retrieve: %w", ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{ErrGenerationFailed, http.StatusInternalServerError},
		{ErrConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusCode(tc.err); got != tc.want {
			t.Fatalf("StatusCode(%v)=%d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestRateLimitError_HeadersRoundUp(t *testing.T) {
	err := NewRateLimitError(1500 * time.Millisecond)
	if got := err.Headers().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected errors.Is to match ErrRateLimited")
	}
	if NewRateLimitError(-time.Second).RetryAfter != 0 {
		t.Fatalf("expected negative delay to clamp to zero")
	}
}

func TestPublicMessage_HidesInternals(t *testing.T) {
	err := fmt.Errorf("llm: primary: secret raw output: %w", ErrGenerationFailed)
	if got := PublicMessage(err); got != "failed to generate a response, please try again" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := PublicMessage(InvalidRequest("location is required")); got != "location is required" {
		t.Fatalf("unexpected message %q", got)
	}
}
