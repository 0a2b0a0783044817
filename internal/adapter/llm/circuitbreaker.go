package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
	"deskmate/internal/infra/logger"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerPredictor wraps an IntentPredictor with a circuit breaker.
// Once the backend fails repeatedly, calls fail fast with
// ErrModelUnavailable instead of waiting for the classification timeout.
type CircuitBreakerPredictor struct {
	inner   domain.IntentPredictor
	breaker *gobreaker.CircuitBreaker[*domain.Prediction]
	logger  *slog.Logger
}

// NewCircuitBreakerPredictor wraps inner. Zero config fields take defaults.
func NewCircuitBreakerPredictor(inner domain.IntentPredictor, cfg config.CircuitBreakerConfig, log *slog.Logger) *CircuitBreakerPredictor {
	if log == nil {
		log = logger.Discard()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.Prediction](gobreaker.Settings{
		Name:        "model:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Bad answers are not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrProviderError) || errors.Is(err, domain.ErrInvalidInput)
		},
	})

	return &CircuitBreakerPredictor{inner: inner, breaker: cb, logger: log}
}

// Predict implements domain.IntentPredictor.
func (p *CircuitBreakerPredictor) Predict(ctx context.Context, req domain.PredictRequest) (*domain.Prediction, error) {
	pred, err := p.breaker.Execute(func() (*domain.Prediction, error) {
		return p.inner.Predict(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: model %q circuit open: %w", domain.ErrModelUnavailable, p.inner.Name(), err)
		}
		return nil, err
	}
	return pred, nil
}

// Name implements domain.IntentPredictor.
func (p *CircuitBreakerPredictor) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state.
func (p *CircuitBreakerPredictor) State() gobreaker.State { return p.breaker.State() }

// Counts returns the current failure and success counts.
func (p *CircuitBreakerPredictor) Counts() gobreaker.Counts { return p.breaker.Counts() }

var _ domain.IntentPredictor = (*CircuitBreakerPredictor)(nil)
