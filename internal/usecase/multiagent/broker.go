package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

// Broker hands routing decisions to the action executor of the chosen agent.
type Broker struct {
	mu        sync.RWMutex
	executors map[string]domain.ActionExecutor
	logger    *slog.Logger
}

// NewBroker creates an empty Broker.
func NewBroker(log *slog.Logger) *Broker {
	if log == nil {
		log = logger.Discard()
	}
	return &Broker{
		executors: make(map[string]domain.ActionExecutor),
		logger:    log,
	}
}

// Register sets the executor for agentID, replacing any previous one.
func (b *Broker) Register(agentID string, exec domain.ActionExecutor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executors[agentID] = exec
}

// Has reports whether agentID has an executor.
func (b *Broker) Has(agentID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.executors[agentID]
	return ok
}

// Execute runs the executor for the decision's agent. It returns
// ErrNotFound when the agent has none.
func (b *Broker) Execute(ctx context.Context, decision domain.RoutingDecision) (*domain.ActionResult, error) {
	b.mu.RLock()
	exec, ok := b.executors[decision.AgentID]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("broker: agent %q: %w", decision.AgentID, domain.ErrNotFound)
	}

	start := time.Now()
	res, err := exec.Execute(ctx, decision)
	b.logger.Info("action executed",
		"agent_id", decision.AgentID,
		"intent", decision.Intent,
		"interaction_id", decision.InteractionID,
		"duration", time.Since(start),
		"error", err,
	)
	if err != nil {
		return nil, fmt.Errorf("broker: agent %q: %w", decision.AgentID, err)
	}
	if res == nil {
		return nil, fmt.Errorf("broker: agent %q: %w: nil result", decision.AgentID, domain.ErrProviderError)
	}
	return res, nil
}
