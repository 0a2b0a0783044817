// Package llm connects the classifier to a chat model that can pick intents
// when the rules are unsure.
package llm

import (
	"fmt"
	"log/slog"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
)

// Provider types.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// NewProvider builds the chat backend named by cfg.Provider.
func NewProvider(cfg config.ModelConfig, log *slog.Logger) (domain.LLMProvider, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaProvider(cfg, log), nil
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown model provider %q", domain.ErrInvalidInput, cfg.Provider)
	}
}

// NewPredictor builds the intent predictor for cfg: provider, then the
// circuit breaker, then the rate limiter. It returns nil when the model is
// disabled.
func NewPredictor(cfg config.ModelConfig, log *slog.Logger) (domain.IntentPredictor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = logger.Discard()
	}
	provider, err := NewProvider(cfg, log)
	if err != nil {
		return nil, err
	}
	var p domain.IntentPredictor = NewChatPredictor(provider, WithPredictorLogger(log))
	p = NewCircuitBreakerPredictor(p, cfg.CircuitBreaker, log)
	p = NewRateLimitedPredictor(p, cfg.RateLimit)
	log.Info("intent model enabled", "provider", provider.Name(), "model", cfg.Model)
	return p, nil
}
