package multiagent

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

// Registry holds the registered domain agents in registration order.
// Agents are added at startup and never removed.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]domain.DomainAgent
	order      []string
	fallbackID string
	logger     *slog.Logger
}

// NewRegistry creates a Registry whose fallback agent is fallbackID.
func NewRegistry(fallbackID string, log *slog.Logger) *Registry {
	if log == nil {
		log = logger.Discard()
	}
	return &Registry{
		agents:     make(map[string]domain.DomainAgent),
		fallbackID: fallbackID,
		logger:     log,
	}
}

// Register adds an agent. Returns ErrDuplicate if the ID is taken.
func (r *Registry) Register(agent domain.DomainAgent) error {
	desc := agent.Descriptor()
	if desc.ID == "" {
		return fmt.Errorf("%w: agent ID is empty", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[desc.ID]; exists {
		return fmt.Errorf("%w: agent %q", domain.ErrDuplicate, desc.ID)
	}
	r.agents[desc.ID] = agent
	r.order = append(r.order, desc.ID)
	r.logger.Info("agent registered", "agent_id", desc.ID, "priority", agent.Priority(),
		"intents", len(desc.Intents), "fallback", desc.ID == r.fallbackID)
	return nil
}

// Get returns the agent for the given ID, or ErrNotFound.
func (r *Registry) Get(agentID string) (domain.DomainAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: agent %q", domain.ErrNotFound, agentID)
	}
	return agent, nil
}

// Fallback returns the fallback agent, or ErrNoFallbackAgent.
func (r *Registry) Fallback() (domain.DomainAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[r.fallbackID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoFallbackAgent, r.fallbackID)
	}
	return agent, nil
}

// FallbackID returns the configured fallback agent ID.
func (r *Registry) FallbackID() string { return r.fallbackID }

// Agents returns the agents in registration order.
func (r *Registry) Agents() []domain.DomainAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.DomainAgent, len(r.order))
	for i, id := range r.order {
		out[i] = r.agents[id]
	}
	return out
}

// List returns a summary of every agent, sorted by priority and then by
// registration order.
func (r *Registry) List() []domain.AgentInfo {
	agents := r.Agents()
	infos := make([]domain.AgentInfo, len(agents))
	for i, a := range agents {
		d := a.Descriptor()
		infos[i] = domain.AgentInfo{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Intents:     d.Intents,
			Priority:    a.Priority(),
			Fallback:    d.ID == r.fallbackID,
		}
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Priority < infos[j].Priority
	})
	return infos
}

// Names maps the lower-cased ID and name of every agent to its ID, for
// @agent addressing.
func (r *Registry) Names() map[string]string {
	names := make(map[string]string)
	for _, a := range r.Agents() {
		d := a.Descriptor()
		names[strings.ToLower(d.ID)] = d.ID
		if d.Name != "" {
			names[strings.ToLower(strings.ReplaceAll(d.Name, " ", "-"))] = d.ID
		}
	}
	return names
}
