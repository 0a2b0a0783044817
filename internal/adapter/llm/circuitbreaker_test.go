package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/domain"
	"deskmate/internal/infra/config"
)

func TestCircuitBreakerPassesThrough(t *testing.T) {
	inner := &countingPredictor{}
	cb := NewCircuitBreakerPredictor(inner, config.CircuitBreakerConfig{}, nil)

	pred, err := cb.Predict(context.Background(), listPods)
	require.NoError(t, err)
	assert.Equal(t, "list_pods", pred.Intent)
	assert.Equal(t, "counting", cb.Name())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &countingPredictor{err: fmt.Errorf("%w: connection refused", domain.ErrModelUnavailable)}
	cb := NewCircuitBreakerPredictor(inner, config.CircuitBreakerConfig{
		MaxFailures: 3,
		Timeout:     5 * time.Second,
	}, nil)

	for i := 0; i < 3; i++ {
		_, err := cb.Predict(context.Background(), listPods)
		require.Error(t, err)
	}
	assert.Equal(t, 3, inner.count())
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Predict(context.Background(), listPods)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, 3, inner.count(), "open circuit must not reach the backend")
}

func TestCircuitBreakerIgnoresBadAnswers(t *testing.T) {
	inner := &countingPredictor{err: fmt.Errorf("%w: decode prediction", domain.ErrProviderError)}
	cb := NewCircuitBreakerPredictor(inner, config.CircuitBreakerConfig{MaxFailures: 2}, nil)

	for i := 0; i < 5; i++ {
		_, err := cb.Predict(context.Background(), listPods)
		assert.ErrorIs(t, err, domain.ErrProviderError)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, 5, inner.count())
}

func TestCircuitBreakerRecovers(t *testing.T) {
	inner := &countingPredictor{err: errors.New("down")}
	cb := NewCircuitBreakerPredictor(inner, config.CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     50 * time.Millisecond,
	}, nil)

	_, err := cb.Predict(context.Background(), listPods)
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, cb.State())

	time.Sleep(80 * time.Millisecond)
	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()

	pred, err := cb.Predict(context.Background(), listPods)
	require.NoError(t, err)
	assert.Equal(t, "list_pods", pred.Intent)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
