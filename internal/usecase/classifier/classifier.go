// Package classifier combines learned patterns, agent rules and an optional
// model into one intent decision.
package classifier

import (
	"context"
	"log/slog"
	"time"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
	"deskmate/internal/infra/tracer"
	"deskmate/internal/usecase/extract"
)

// Config tunes the hybrid classifier.
type Config struct {
	// ModelThreshold is the confidence below which the model is consulted
	// and the minimum confidence a prediction needs to be used.
	ModelThreshold float64
	ModelTimeout   time.Duration
	// MinPatternSuccessRate filters out stored patterns that keep failing.
	MinPatternSuccessRate float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		ModelThreshold:        0.8,
		ModelTimeout:          2 * time.Second,
		MinPatternSuccessRate: 0.5,
	}
}

// responder is implemented by agents that can phrase an acknowledgement
// for an intent other than the one their rules chose.
type responder interface {
	Respond(intent string, entities domain.Entities) string
}

// Classifier is safe for concurrent use.
type Classifier struct {
	store     domain.PatternStore
	predictor domain.IntentPredictor
	bus       domain.EventBus
	cfg       Config
	logger    *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithPredictor enables the model path.
func WithPredictor(p domain.IntentPredictor) Option {
	return func(c *Classifier) { c.predictor = p }
}

// WithEventBus publishes ignored model predictions.
func WithEventBus(bus domain.EventBus) Option {
	return func(c *Classifier) { c.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a classifier. store may be nil, which disables pattern hits.
func New(store domain.PatternStore, cfg Config, opts ...Option) *Classifier {
	def := DefaultConfig()
	if cfg.ModelThreshold <= 0 {
		cfg.ModelThreshold = def.ModelThreshold
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = def.ModelTimeout
	}
	if cfg.MinPatternSuccessRate < 0 {
		cfg.MinPatternSuccessRate = 0
	}
	c := &Classifier{store: store, cfg: cfg, logger: logger.Discard()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify resolves the intent of message for agent. It never fails: store
// and model problems degrade to the rule result.
func (c *Classifier) Classify(ctx context.Context, agent domain.DomainAgent, message string) domain.Classification {
	desc := agent.Descriptor()
	ctx, span := tracer.StartSpan(ctx, "classifier.classify")
	defer span.End()

	res := agent.Classify(message)
	if res.Entities == nil {
		res.Entities = domain.Entities{}
	}
	res.Template = extract.Template(message, res.Entities)

	if p, ok := c.matchPattern(ctx, desc, res.Template); ok {
		res.Intent = p.Intent
		res.Confidence = max(p.Confidence, p.SuccessRate())
		res.Method = domain.MethodPattern
		res.PatternID = p.ID
		res.Triggers = nil
		res.Response = c.respond(agent, res)
	}

	if c.predictor != nil && res.Confidence < c.cfg.ModelThreshold {
		if pred, ok := c.predict(ctx, desc, message); ok {
			res.Intent = pred.Intent
			res.Confidence = pred.Confidence
			res.Method = domain.MethodModel
			res.PatternID = ""
			res.Triggers = nil
			res.Response = c.respond(agent, res)
		}
	}

	span.SetAttributes(
		tracer.StringAttr("agent_id", desc.ID),
		tracer.StringAttr("intent", res.Intent),
		tracer.StringAttr("method", string(res.Method)),
		tracer.FloatAttr("confidence", res.Confidence),
	)
	return res
}

// matchPattern returns the best stored pattern for template that belongs to
// the agent and still succeeds often enough.
func (c *Classifier) matchPattern(ctx context.Context, desc domain.AgentDescriptor, template string) (domain.Pattern, bool) {
	if c.store == nil || template == "" {
		return domain.Pattern{}, false
	}
	patterns, err := c.store.Lookup(ctx, desc.ID, template)
	if err != nil {
		c.logger.Warn("pattern lookup failed", "agent_id", desc.ID, "error", err)
		return domain.Pattern{}, false
	}
	for _, p := range patterns {
		if !desc.HasIntent(p.Intent) {
			continue
		}
		if p.SuccessRate() < c.cfg.MinPatternSuccessRate {
			c.logger.Debug("pattern below success threshold", "pattern_id", p.ID, "success_rate", p.SuccessRate())
			continue
		}
		return p, true
	}
	return domain.Pattern{}, false
}

func (c *Classifier) predict(ctx context.Context, desc domain.AgentDescriptor, message string) (*domain.Prediction, bool) {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.ModelTimeout)
	defer cancel()

	pred, err := c.predictor.Predict(pctx, domain.PredictRequest{
		AgentID: desc.ID,
		Message: message,
		Intents: desc.Intents,
	})
	switch {
	case err != nil:
		c.ignore(ctx, desc.ID, "error", "error", err)
		return nil, false
	case pred == nil:
		return nil, false
	case !desc.HasIntent(pred.Intent):
		c.ignore(ctx, desc.ID, "unknown intent", "intent", pred.Intent)
		return nil, false
	case pred.Confidence < c.cfg.ModelThreshold:
		c.logger.Debug("model prediction below threshold", "agent_id", desc.ID, "intent", pred.Intent, "confidence", pred.Confidence)
		return nil, false
	}
	return pred, true
}

func (c *Classifier) ignore(ctx context.Context, agentID, reason string, args ...any) {
	c.logger.Debug("model prediction ignored", append([]any{"agent_id", agentID, "reason", reason}, args...)...)
	if c.bus != nil {
		c.bus.Publish(ctx, domain.NewEvent(domain.EventModelIgnored, "", map[string]string{
			"agent_id": agentID,
			"reason":   reason,
		}))
	}
}

func (c *Classifier) respond(agent domain.DomainAgent, res domain.Classification) string {
	if r, ok := agent.(responder); ok {
		return r.Respond(res.Intent, res.Entities)
	}
	return res.Response
}
