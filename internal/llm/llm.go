// Package llm talks to chat-completion backends and enforces response shape.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/raevmood/devicefinder/internal/apperr"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn sent to a backend.
type Message struct {
	Role    Role
	Content string
}

// Prompt is a backend-neutral completion request.
type Prompt struct {
	System   string
	Messages []Message
	// JSONMode asks the backend to answer with a single JSON object.
	JSONMode bool
}

// Backend is one model endpoint.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ErrEmptyOutput is returned when a backend answers with no content.
var ErrEmptyOutput = errors.New("llm: empty output")

// StatusError reports a non-2xx backend response.
type StatusError struct {
	Backend string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Backend, e.Status, e.Message)
}

// GenerationError reports that every configured backend failed.
type GenerationError struct {
	Primary   error
	Secondary error
	// LastRaw is the last raw model output seen, kept for logs only.
	LastRaw string
}

func (e *GenerationError) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("generation failed: primary: %v", e.Primary)
	}
	return fmt.Sprintf("generation failed: primary: %v; secondary: %v", e.Primary, e.Secondary)
}

// Is matches apperr.ErrGenerationFailed.
func (e *GenerationError) Is(target error) bool {
	return target == apperr.ErrGenerationFailed
}

// Unwrap exposes both backend failures.
func (e *GenerationError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Primary != nil {
		out = append(out, e.Primary)
	}
	if e.Secondary != nil {
		out = append(out, e.Secondary)
	}
	return out
}
