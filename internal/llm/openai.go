package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/raevmood/devicefinder/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxResponseBytes bounds how much of a backend reply is read.
const maxResponseBytes = 4 << 20

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint such
// as Groq.
type OpenAIBackend struct {
	cfg    config.BackendConfig
	client *http.Client
}

// NewOpenAIBackend constructs an OpenAIBackend.
func NewOpenAIBackend(cfg config.BackendConfig, client *http.Client) *OpenAIBackend {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIBackend{cfg: cfg, client: client}
}

// Name identifies the backend in logs and metrics.
func (b *OpenAIBackend) Name() string {
	return "openai:" + b.cfg.Model
}

// Complete sends prompt and returns the first choice's content.
func (b *OpenAIBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	body, errBody := b.buildBody(prompt)
	if errBody != nil {
		return "", errBody
	}
	url := strings.TrimRight(b.cfg.BaseURL, "/") + "/chat/completions"
	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if errReq != nil {
		return "", fmt.Errorf("%s: build request: %w", b.Name(), errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	data, errDo := doRequest(b.client, req, b.Name())
	if errDo != nil {
		return "", errDo
	}
	content := strings.TrimSpace(gjson.GetBytes(data, "choices.0.message.content").String())
	if content == "" {
		return "", ErrEmptyOutput
	}
	return content, nil
}

func (b *OpenAIBackend) buildBody(prompt Prompt) ([]byte, error) {
	body := []byte(`{"messages":[]}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}
	set("model", b.cfg.Model)
	set("temperature", b.cfg.Temperature)
	set("max_tokens", b.cfg.MaxTokens)
	if strings.TrimSpace(prompt.System) != "" {
		set("messages.-1", map[string]string{"role": "system", "content": prompt.System})
	}
	for _, msg := range prompt.Messages {
		set("messages.-1", map[string]string{"role": string(msg.Role), "content": msg.Content})
	}
	if prompt.JSONMode {
		set("response_format.type", "json_object")
	}
	if err != nil {
		return nil, fmt.Errorf("%s: build body: %w", b.Name(), err)
	}
	return body, nil
}

// doRequest executes req and returns the body of a 2xx response.
func doRequest(client *http.Client, req *http.Request, name string) ([]byte, error) {
	resp, errDo := client.Do(req)
	if errDo != nil {
		return nil, fmt.Errorf("%s: request failed: %w", name, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("llm: close response body failed")
		}
	}()
	data, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if errRead != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{Backend: name, Status: resp.StatusCode, Message: gjson.GetBytes(data, "error.message").String()}
	}
	return data, nil
}
