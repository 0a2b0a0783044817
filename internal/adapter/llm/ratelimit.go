package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
)

// RateLimitedPredictor caps the request rate to the model backend. When no
// token is available the call fails at once with ErrRateLimit; the
// classifier then keeps the rule result.
type RateLimitedPredictor struct {
	inner   domain.IntentPredictor
	limiter *rate.Limiter
}

// NewRateLimitedPredictor wraps inner. A non-positive rate disables limiting.
func NewRateLimitedPredictor(inner domain.IntentPredictor, cfg config.RateLimitConfig) *RateLimitedPredictor {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedPredictor{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

// Predict implements domain.IntentPredictor.
func (p *RateLimitedPredictor) Predict(ctx context.Context, req domain.PredictRequest) (*domain.Prediction, error) {
	if !p.limiter.Allow() {
		return nil, fmt.Errorf("%w: model %q", domain.ErrRateLimit, p.inner.Name())
	}
	return p.inner.Predict(ctx, req)
}

// Name implements domain.IntentPredictor.
func (p *RateLimitedPredictor) Name() string { return p.inner.Name() }

var _ domain.IntentPredictor = (*RateLimitedPredictor)(nil)
