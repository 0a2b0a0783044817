package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
	"deskmate/internal/infra/tracer"
)

const predictSystemPrompt = `You classify user requests for the %q assistant.
Pick exactly one intent from this list: %s.
Reply with a single JSON object and nothing else:
{"intent": "<one of the intents>", "confidence": <number between 0 and 1>}`

// ChatPredictor asks a chat model to pick one of an agent's intents.
type ChatPredictor struct {
	provider  domain.LLMProvider
	model     string
	maxTokens int
	logger    *slog.Logger
}

// PredictorOption configures a ChatPredictor.
type PredictorOption func(*ChatPredictor)

// WithModel overrides the provider's default model.
func WithModel(model string) PredictorOption {
	return func(p *ChatPredictor) { p.model = model }
}

// WithPredictorLogger sets the logger.
func WithPredictorLogger(l *slog.Logger) PredictorOption {
	return func(p *ChatPredictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewChatPredictor creates a predictor on provider.
func NewChatPredictor(provider domain.LLMProvider, opts ...PredictorOption) *ChatPredictor {
	p := &ChatPredictor{provider: provider, maxTokens: 64, logger: logger.Discard()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements domain.IntentPredictor.
func (p *ChatPredictor) Name() string { return p.provider.Name() }

// Predict implements domain.IntentPredictor.
func (p *ChatPredictor) Predict(ctx context.Context, req domain.PredictRequest) (*domain.Prediction, error) {
	if len(req.Intents) == 0 {
		return nil, fmt.Errorf("%w: no candidate intents", domain.ErrInvalidInput)
	}
	ctx, span := tracer.StartSpan(ctx, "llm.predict")
	defer span.End()
	span.SetAttributes(tracer.StringAttr("agent_id", req.AgentID))

	resp, err := p.provider.Chat(ctx, domain.ChatRequest{
		Model: p.model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: fmt.Sprintf(predictSystemPrompt, req.AgentID, strings.Join(req.Intents, ", "))},
			{Role: domain.RoleUser, Content: req.Message},
		},
		MaxTokens:   p.maxTokens,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	pred, err := parsePrediction(resp.Message.Content)
	if err != nil {
		tracer.RecordError(span, err)
		p.logger.Debug("unparseable prediction", "agent_id", req.AgentID, "content", truncate(resp.Message.Content, 200))
		return nil, err
	}
	pred.Model = resp.Model

	span.SetAttributes(
		tracer.StringAttr("intent", pred.Intent),
		tracer.FloatAttr("confidence", pred.Confidence),
	)
	tracer.SetOK(span)
	return pred, nil
}

// parsePrediction decodes {"intent": ..., "confidence": ...}. Confidence is
// clamped to [0, 1].
func parsePrediction(content string) (*domain.Prediction, error) {
	var raw struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: decode prediction: %w", domain.ErrProviderError, err)
	}
	intent := strings.ToLower(strings.TrimSpace(raw.Intent))
	if intent == "" {
		return nil, fmt.Errorf("%w: prediction has no intent", domain.ErrProviderError)
	}
	return &domain.Prediction{Intent: intent, Confidence: min(max(raw.Confidence, 0), 1)}, nil
}

var _ domain.IntentPredictor = (*ChatPredictor)(nil)
