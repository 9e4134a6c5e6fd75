package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raevmood/devicefinder/internal/config"
	"github.com/tidwall/gjson"
)

func TestOpenAIBackend_Complete(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":" hi there "}}]}`))
	}))
	defer server.Close()

	backend := NewOpenAIBackend(config.BackendConfig{BaseURL: server.URL, Model: "m", APIKey: "key", Temperature: 0.7, MaxTokens: 10}, server.Client())
	out, err := backend.Complete(context.Background(), Prompt{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hello"}, {Role: RoleAssistant, Content: "yo"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "hi there" {
		t.Fatalf("unexpected output %q", out)
	}
	if got := gjson.GetBytes(captured, "messages.#").Int(); got != 3 {
		t.Fatalf("expected 3 messages, got %d: %s", got, captured)
	}
	if gjson.GetBytes(captured, "messages.0.role").String() != "system" {
		t.Fatalf("expected system message first: %s", captured)
	}
	if gjson.GetBytes(captured, "response_format.type").String() != "json_object" {
		t.Fatalf("expected json mode: %s", captured)
	}
	if gjson.GetBytes(captured, "max_tokens").Int() != 10 {
		t.Fatalf("expected max tokens: %s", captured)
	}
}

func TestOpenAIBackend_StatusAndEmpty(t *testing.T) {
	status := http.StatusTooManyRequests
	body := `{"error":{"message":"slow down"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	backend := NewOpenAIBackend(config.BackendConfig{BaseURL: server.URL, Model: "m"}, server.Client())
	_, err := backend.Complete(context.Background(), Prompt{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusTooManyRequests || statusErr.Message != "slow down" {
		t.Fatalf("expected status error, got %v", err)
	}

	status = http.StatusOK
	body = `{"choices":[{"message":{"content":""}}]}`
	if _, err := backend.Complete(context.Background(), Prompt{}); !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected empty output error, got %v", err)
	}
}

func TestGeminiBackend_Complete(t *testing.T) {
	var captured []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1beta/models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "gkey" {
			t.Errorf("missing api key header")
		}
		captured, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"a\":"},{"text":"1}"}]}}]}`))
	}))
	defer server.Close()

	backend := NewGeminiBackend(config.BackendConfig{BaseURL: server.URL, Model: "gemini-test", APIKey: "gkey", MaxTokens: 5}, server.Client())
	out, err := backend.Complete(context.Background(), Prompt{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}},
		JSONMode: true,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("unexpected output %q", out)
	}
	if gjson.GetBytes(captured, "contents.1.role").String() != "model" {
		t.Fatalf("expected assistant mapped to model: %s", captured)
	}
	if gjson.GetBytes(captured, "systemInstruction.parts.0.text").String() != "sys" {
		t.Fatalf("expected system instruction: %s", captured)
	}
	if gjson.GetBytes(captured, "generationConfig.responseMimeType").String() != "application/json" {
		t.Fatalf("expected json mime type: %s", captured)
	}
}

func TestNewBackend(t *testing.T) {
	if b, err := NewBackend(config.BackendConfig{}, nil); b != nil || err != nil {
		t.Fatalf("expected nil backend for empty provider")
	}
	if b, _ := NewBackend(config.BackendConfig{Provider: "groq", Model: "m"}, nil); b == nil || b.Name() != "openai:m" {
		t.Fatalf("expected openai backend")
	}
	if b, _ := NewBackend(config.BackendConfig{Provider: "gemini", Model: "g"}, nil); b == nil || b.Name() != "gemini:g" {
		t.Fatalf("expected gemini backend")
	}
	if _, err := NewBackend(config.BackendConfig{Provider: "other"}, nil); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
