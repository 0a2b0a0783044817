// Package multiagent owns the registered domain agents and decides which of
// them answers a message.
package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
	"deskmate/internal/infra/tracer"
	"deskmate/internal/usecase/extract"
	"deskmate/internal/usecase/learning"
)

// DefaultMaxPending bounds the interactions waiting for an outcome.
const DefaultMaxPending = 1024

var errNoClassifier = errors.New("multiagent: classifier is nil")

// Classifier refines the intent of a message for one agent.
type Classifier interface {
	Classify(ctx context.Context, agent domain.DomainAgent, message string) domain.Classification
}

// Learner turns finished interactions into patterns.
type Learner interface {
	Learn(ctx context.Context, in domain.Interaction) (*learning.Result, error)
	Record(ctx context.Context, in domain.Interaction) (*learning.Result, error)
}

// Config tunes routing.
type Config struct {
	ContextSize  int
	ContextTTL   time.Duration
	ContextBonus float64
	MaxPending   int
}

// DefaultConfig returns the stock routing settings.
func DefaultConfig() Config {
	return Config{
		ContextSize:  DefaultContextSize,
		ContextTTL:   DefaultContextTTL,
		ContextBonus: DefaultContextBonus,
		MaxPending:   DefaultMaxPending,
	}
}

// HandleResult is a routed and, when possible, executed message.
type HandleResult struct {
	Decision *domain.RoutingDecision `json:"decision"`
	Result   domain.ActionResult     `json:"result"`
	// Executed is false when the agent has no executor; the outcome is then
	// left for the caller to report.
	Executed bool `json:"executed"`
}

// Orchestrator scores every agent, picks one, classifies the message with
// it and feeds outcomes back to the learner. It is safe for concurrent use.
type Orchestrator struct {
	registry   *Registry
	classifier Classifier
	learner    Learner
	broker     *Broker
	prefix     *PrefixRouter
	sessions   *SessionTracker
	bus        domain.EventBus
	logger     *slog.Logger
	maxPending int
	now        func() time.Time

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	pendMu       sync.Mutex
	pending      map[string]domain.Interaction
	pendingOrder []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventBus publishes routing and outcome events.
func WithEventBus(bus domain.EventBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBroker sets the executors used by Handle.
func WithBroker(b *Broker) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.broker = b
		}
	}
}

// WithSessionTracker replaces the session tracker built from Config.
func WithSessionTracker(t *SessionTracker) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.sessions = t
		}
	}
}

// New creates an Orchestrator. The registry must already hold its fallback
// agent. learner may be nil, which turns outcome recording into a no-op.
func New(registry *Registry, classifier Classifier, learner Learner, cfg Config, opts ...Option) (*Orchestrator, error) {
	if classifier == nil {
		return nil, errNoClassifier
	}
	if _, err := registry.Fallback(); err != nil {
		return nil, domain.NewSubSystemError("orchestrator", "multiagent.New", err, "")
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	o := &Orchestrator{
		registry:   registry,
		classifier: classifier,
		learner:    learner,
		broker:     NewBroker(nil),
		prefix:     NewPrefixRouter(registry.Names(), nil),
		sessions:   NewSessionTracker(cfg.ContextSize, cfg.ContextTTL, cfg.ContextBonus),
		logger:     logger.Discard(),
		maxPending: cfg.MaxPending,
		now:        func() time.Time { return time.Now().UTC() },
		entropy:    ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
		pending:    make(map[string]domain.Interaction),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.prefix.logger = o.logger
	return o, nil
}

// Registry returns the agent registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Sessions returns the session tracker.
func (o *Orchestrator) Sessions() *SessionTracker { return o.sessions }

// Agents lists the registered agents.
func (o *Orchestrator) Agents() []domain.AgentInfo { return o.registry.List() }

// DraftPattern builds the pattern that maps message to intent, templated
// the way Route templates incoming messages. With no agentID the first
// registered agent serving intent is used.
func (o *Orchestrator) DraftPattern(agentID, intent, message string) (domain.Pattern, error) {
	message = strings.TrimSpace(message)
	if intent == "" || message == "" {
		return domain.Pattern{}, fmt.Errorf("%w: a pattern needs an intent and a message", domain.ErrInvalidInput)
	}
	var agent domain.DomainAgent
	if agentID != "" {
		a, err := o.registry.Get(agentID)
		if err != nil {
			return domain.Pattern{}, err
		}
		agent = a
	} else {
		for _, a := range o.registry.Agents() {
			if a.Descriptor().HasIntent(intent) {
				agent = a
				break
			}
		}
	}
	if agent == nil || !agent.Descriptor().HasIntent(intent) {
		return domain.Pattern{}, fmt.Errorf("%w: no agent serves intent %q", domain.ErrInvalidInput, intent)
	}
	cls := agent.Classify(message)
	return domain.Pattern{
		AgentID:  agent.Descriptor().ID,
		Intent:   intent,
		Template: extract.Template(message, cls.Entities),
	}, nil
}

// Route picks an agent for msg and classifies it. The interaction stays
// pending until RecordOutcome. A blank message goes to the fallback agent
// with its default intent.
func (o *Orchestrator) Route(ctx context.Context, msg domain.InboundMessage) (*domain.RoutingDecision, error) {
	content := strings.TrimSpace(msg.Content)
	ctx, span := tracer.StartSpan(ctx, "orchestrator.route")
	defer span.End()

	var (
		agent  domain.DomainAgent
		score  float64
		reason string
		cls    domain.Classification
	)
	if content == "" {
		agent, reason = o.fallback(ctx, msg.SessionID, "empty message; fallback")
		cls = agent.Classify("")
	} else {
		agent, score, reason = o.pick(ctx, msg.SessionID, &content)
		cls = o.classifier.Classify(ctx, agent, content)
	}
	desc := agent.Descriptor()
	if cls.Entities == nil {
		cls.Entities = domain.Entities{}
	}
	now := o.now()
	decision := &domain.RoutingDecision{
		InteractionID:    o.newID(now),
		SessionID:        msg.SessionID,
		AgentID:          desc.ID,
		Intent:           cls.Intent,
		Confidence:       cls.Confidence,
		Entities:         cls.Entities,
		MatchedPatternID: cls.PatternID,
		Method:           cls.Method,
		Score:            score,
		Reason:           reason,
		Template:         cls.Template,
		Response:         cls.Response,
	}

	if desc.ID != o.registry.FallbackID() {
		o.sessions.Record(msg.SessionID, desc.ID)
	}
	o.remember(domain.Interaction{
		ID:             decision.InteractionID,
		SessionID:      msg.SessionID,
		AgentID:        desc.ID,
		Message:        content,
		Template:       cls.Template,
		DetectedIntent: cls.Intent,
		Entities:       cls.Entities,
		PatternID:      cls.PatternID,
		Timestamp:      now,
	})

	span.SetAttributes(
		tracer.StringAttr("agent_id", decision.AgentID),
		tracer.StringAttr("intent", decision.Intent),
		tracer.FloatAttr("confidence", decision.Confidence),
		tracer.FloatAttr("score", decision.Score),
	)
	o.logger.Debug("message routed",
		"interaction_id", decision.InteractionID,
		"agent_id", decision.AgentID,
		"intent", decision.Intent,
		"method", string(decision.Method),
		"confidence", decision.Confidence,
		"reason", decision.Reason,
	)
	o.publish(ctx, domain.EventRoutingDecided, msg.SessionID, decision)
	return decision, nil
}

// pick selects the agent for a message. An @agent prefix wins outright and
// is stripped from content.
func (o *Orchestrator) pick(ctx context.Context, sessionID string, content *string) (domain.DomainAgent, float64, string) {
	if id, rest, ok := o.prefix.Match(*content); ok && rest != "" {
		if agent, err := o.registry.Get(id); err == nil {
			*content = rest
			return agent, agent.Score(rest).Score, "explicit @" + id
		}
	}

	agents := o.registry.Agents()
	cands := make([]candidate, len(agents))
	matched := false
	for i, a := range agents {
		cands[i] = candidate{agent: a, index: i, score: a.Score(*content)}
		if cands[i].score.Score > 0 {
			matched = true
		}
	}
	// Session context only settles messages no agent claims on its own.
	if !matched {
		bonuses := o.sessions.Bonuses(sessionID)
		for i := range cands {
			cands[i].bonus = bonuses[cands[i].agent.Descriptor().ID]
		}
	}

	sel, ok := choose(cands)
	if !ok {
		fallback, reason := o.fallback(ctx, sessionID, "no agent matched; fallback")
		return fallback, 0, reason
	}
	if len(sel.tied) > 1 {
		o.logger.Debug("routing tie", "agents", sel.tied, "score", sel.winner.total(), "winner", sel.tied[0])
		o.publish(ctx, domain.EventRoutingTie, sessionID, map[string]any{
			"agents": sel.tied,
			"score":  sel.winner.total(),
			"winner": sel.tied[0],
		})
	}
	return sel.winner.agent, sel.winner.total(), sel.reason()
}

func (o *Orchestrator) fallback(ctx context.Context, sessionID, reason string) (domain.DomainAgent, string) {
	agent, _ := o.registry.Fallback()
	o.logger.Info("no agent matched, using fallback", "agent_id", o.registry.FallbackID())
	o.publish(ctx, domain.EventRoutingFallback, sessionID, map[string]string{"agent_id": o.registry.FallbackID()})
	return agent, reason
}

// RecordOutcome closes a pending interaction and learns from it.
func (o *Orchestrator) RecordOutcome(ctx context.Context, out domain.Outcome) (*learning.Result, error) {
	in, ok := o.take(out.InteractionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInteractionNotFound, out.InteractionID)
	}
	in.Success = out.Success
	if out.ResolvedIntent != "" && out.ResolvedIntent != in.DetectedIntent {
		agent, err := o.registry.Get(in.AgentID)
		if err != nil || !agent.Descriptor().HasIntent(out.ResolvedIntent) {
			o.remember(in)
			return nil, fmt.Errorf("%w: intent %q is not served by agent %q",
				domain.ErrInvalidInput, out.ResolvedIntent, in.AgentID)
		}
		in.ResolvedIntent = out.ResolvedIntent
	} else {
		in.ResolvedIntent = in.DetectedIntent
	}
	return o.RecordInteraction(ctx, in)
}

// RecordInteraction learns from a complete interaction record.
func (o *Orchestrator) RecordInteraction(ctx context.Context, in domain.Interaction) (*learning.Result, error) {
	if in.AgentID == "" || in.Intent() == "" {
		return nil, fmt.Errorf("%w: interaction needs an agent and an intent", domain.ErrInvalidInput)
	}
	if in.ID == "" {
		in.ID = o.newID(o.now())
	}
	o.publish(ctx, domain.EventOutcomeRecorded, in.SessionID, map[string]any{
		"interaction_id":  in.ID,
		"agent_id":        in.AgentID,
		"detected_intent": in.DetectedIntent,
		"resolved_intent": in.ResolvedIntent,
		"success":         in.Success,
	})
	if o.learner == nil {
		return &learning.Result{}, nil
	}
	if o.unlearnable(in) {
		return o.learner.Record(ctx, in)
	}
	return o.learner.Learn(ctx, in)
}

// unlearnable reports whether in ended on the fallback agent's default
// intent. Such messages were not understood and never become patterns.
func (o *Orchestrator) unlearnable(in domain.Interaction) bool {
	if in.AgentID != o.registry.FallbackID() {
		return false
	}
	fb, err := o.registry.Fallback()
	return err == nil && in.Intent() == fb.Descriptor().DefaultIntent
}

// Handle routes msg, runs the agent's executor when one is registered and
// records the outcome. Executor failures surface only as the fallback reply.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.InboundMessage) (*HandleResult, error) {
	decision, err := o.Route(ctx, msg)
	if err != nil {
		return nil, err
	}
	hr := &HandleResult{
		Decision: decision,
		Result:   domain.ActionResult{Success: true, Response: decision.Response},
	}
	if !o.broker.Has(decision.AgentID) {
		return hr, nil
	}

	hr.Executed = true
	res, err := o.broker.Execute(ctx, *decision)
	if err != nil {
		o.logger.Warn("action failed", "interaction_id", decision.InteractionID, "agent_id", decision.AgentID, "error", err)
		hr.Result = domain.ActionResult{Success: false, Response: domain.FallbackResponse}
	} else {
		hr.Result = *res
	}

	if _, err := o.RecordOutcome(ctx, domain.Outcome{
		InteractionID: decision.InteractionID,
		Success:       hr.Result.Success,
	}); err != nil {
		o.logger.Warn("learning failed", "interaction_id", decision.InteractionID, "error", err)
	}
	return hr, nil
}

// Pending returns the number of interactions awaiting an outcome.
func (o *Orchestrator) Pending() int {
	o.pendMu.Lock()
	defer o.pendMu.Unlock()
	return len(o.pending)
}

func (o *Orchestrator) remember(in domain.Interaction) {
	o.pendMu.Lock()
	defer o.pendMu.Unlock()
	if _, exists := o.pending[in.ID]; !exists {
		o.pendingOrder = append(o.pendingOrder, in.ID)
	}
	o.pending[in.ID] = in
	for len(o.pending) > o.maxPending && len(o.pendingOrder) > 0 {
		oldest := o.pendingOrder[0]
		o.pendingOrder = o.pendingOrder[1:]
		if _, ok := o.pending[oldest]; ok {
			delete(o.pending, oldest)
			o.logger.Debug("pending interaction evicted", "interaction_id", oldest)
		}
	}
}

func (o *Orchestrator) take(id string) (domain.Interaction, bool) {
	o.pendMu.Lock()
	defer o.pendMu.Unlock()
	in, ok := o.pending[id]
	if !ok {
		return domain.Interaction{}, false
	}
	delete(o.pending, id)
	o.pendingOrder = removeID(o.pendingOrder, id)
	return in, true
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

func (o *Orchestrator) newID(t time.Time) string {
	o.idMu.Lock()
	defer o.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), o.entropy).String()
}

func (o *Orchestrator) publish(ctx context.Context, t domain.EventType, sessionID string, payload any) {
	if o.bus != nil {
		o.bus.Publish(ctx, domain.NewEvent(t, sessionID, payload))
	}
}

var _ domain.AgentRouter = (*Orchestrator)(nil)
