package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/docbot/internal/openai"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider          string // "openai", "ollama", "gemini"
	BaseURL           string
	APIKey            string
	EmbedDimensions   int
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Detect builds the Engine named by cfg.Provider.
func Detect(ctx context.Context, cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", "openai":
		client := openai.NewClient(cfg.APIKey,
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithRateLimit(cfg.RequestsPerSecond),
			openai.WithTimeout(cfg.Timeout),
		)
		return NewOpenAIEngine(client, cfg.EmbedDimensions), nil
	case "ollama":
		base := cfg.BaseURL
		if base == "" || base == "https://api.openai.com/v1" {
			base = "http://localhost:11434"
		}
		return NewOllamaEngine(base), nil
	case "gemini":
		return NewGeminiEngine(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
