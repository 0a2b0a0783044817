package domain

import "context"

// LLMProvider is the interface for any chat-completion backend.
type LLMProvider interface {
	// Chat sends a request and returns a complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// Name returns the provider's identifier (e.g., "ollama", "openai").
	Name() string
}

// PredictRequest asks a model to pick one of an agent's intents.
type PredictRequest struct {
	AgentID string   `json:"agent_id"`
	Message string   `json:"message"`
	Intents []string `json:"intents"`
}

// Prediction is a model's intent guess.
type Prediction struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
}

// IntentPredictor is the optional statistical classifier consulted when the
// rule-based path is not confident.
type IntentPredictor interface {
	Predict(ctx context.Context, req PredictRequest) (*Prediction, error)
	Name() string
}
