package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Config holds AI provider configuration
type Config struct {
	Provider ProviderType // "gemini", "ollama" or "auto"

	GeminiAPIKey string
	GeminiModel  string

	// Ollama settings are read through getters so they can be changed at runtime.
	GetOllamaBaseURL func() string
	GetOllamaModel   func() string

	Timeout time.Duration
}

// NewOracle builds the oracle for the configured provider. "auto" prefers Gemini and
// falls back to Ollama when Gemini is unreachable or out of quota.
func NewOracle(ctx context.Context, cfg Config, log *zap.Logger) (*LLMOracle, error) {
	gen, err := newGenerator(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return NewLLMOracle(gen, cfg.Timeout, log), nil
}

func newGenerator(ctx context.Context, cfg Config, log *zap.Logger) (Generator, error) {
	ollama := func() Generator {
		if cfg.GetOllamaBaseURL == nil || cfg.GetOllamaModel == nil {
			return NewOllamaGenerator("", "")
		}
		return NewOllamaGeneratorWithGetters(cfg.GetOllamaBaseURL, cfg.GetOllamaModel)
	}

	switch cfg.Provider {
	case ProviderGemini:
		return NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case ProviderOllama:
		return ollama(), nil
	case ProviderAuto, "":
		if cfg.GeminiAPIKey == "" {
			return ollama(), nil
		}
		gemini, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return NewFallbackGenerator(gemini, ollama(), log), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
