package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/raevmood/devicefinder/internal/config"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiBackend calls the Gemini generateContent endpoint.
type GeminiBackend struct {
	cfg    config.BackendConfig
	client *http.Client
}

// NewGeminiBackend constructs a GeminiBackend.
func NewGeminiBackend(cfg config.BackendConfig, client *http.Client) *GeminiBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiBackend{cfg: cfg, client: client}
}

// Name identifies the backend in logs and metrics.
func (b *GeminiBackend) Name() string {
	return "gemini:" + b.cfg.Model
}

// Complete sends prompt and joins the text parts of the first candidate.
func (b *GeminiBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	body, errBody := b.buildBody(prompt)
	if errBody != nil {
		return "", errBody
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(b.cfg.BaseURL, "/"), url.PathEscape(b.cfg.Model))
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if errReq != nil {
		return "", fmt.Errorf("%s: build request: %w", b.Name(), errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", b.cfg.APIKey)
	}

	data, errDo := doRequest(b.client, req, b.Name())
	if errDo != nil {
		return "", errDo
	}
	var sb strings.Builder
	for _, part := range gjson.GetBytes(data, "candidates.0.content.parts.#.text").Array() {
		sb.WriteString(part.String())
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", ErrEmptyOutput
	}
	return content, nil
}

func (b *GeminiBackend) buildBody(prompt Prompt) ([]byte, error) {
	body := []byte(`{"contents":[]}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}
	if strings.TrimSpace(prompt.System) != "" {
		set("systemInstruction", map[string]any{
			"parts": []map[string]string{{"text": prompt.System}},
		})
	}
	for _, msg := range prompt.Messages {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		set("contents.-1", map[string]any{
			"role":  role,
			"parts": []map[string]string{{"text": msg.Content}},
		})
	}
	set("generationConfig.temperature", b.cfg.Temperature)
	set("generationConfig.maxOutputTokens", b.cfg.MaxTokens)
	if prompt.JSONMode {
		set("generationConfig.responseMimeType", "application/json")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: build body: %w", b.Name(), err)
	}
	return body, nil
}
