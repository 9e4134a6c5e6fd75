package llm

import (
	"fmt"
	"net/http"

	"github.com/raevmood/devicefinder/internal/config"
)

// NewBackend builds the backend named by cfg.Provider. An empty provider
// yields a nil backend.
func NewBackend(cfg config.BackendConfig, client *http.Client) (Backend, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "openai", "groq":
		return NewOpenAIBackend(cfg, client), nil
	case "gemini", "google":
		return NewGeminiBackend(cfg, client), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
