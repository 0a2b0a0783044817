package main

import (
	"log/slog"

	"deskmate/internal/adapter/gateway"
	"deskmate/internal/adapter/llm"
	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
)

// initLLM builds the intent predictor and, for Ollama, a health probe for
// the gateway. Both are nil when the model is disabled.
func initLLM(cfg *config.Config, log *slog.Logger) (domain.IntentPredictor, gateway.HealthChecker, error) {
	if !cfg.Model.Enabled {
		return nil, nil, nil
	}
	llmLog := logger.Component(log, "llm")
	predictor, err := llm.NewPredictor(cfg.Model, llmLog)
	if err != nil {
		return nil, nil, err
	}
	var health gateway.HealthChecker
	if cfg.Model.Provider == "" || cfg.Model.Provider == llm.ProviderOllama {
		health = llm.NewOllamaProvider(cfg.Model, llmLog)
	}
	return predictor, health, nil
}
