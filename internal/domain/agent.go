package domain

import (
	"context"
	"regexp"
	"slices"
)

// FallbackResponse is the only failure text users ever see.
const FallbackResponse = "I didn't understand that. Could you try rephrasing?"

// DefaultStrongSignalBonus is added to an agent's score for each strong
// signal pattern found in the message.
const DefaultStrongSignalBonus = 3.0

// StrongSignal is a pattern that almost certainly identifies a domain,
// such as an issue key or a CLI invocation.
type StrongSignal struct {
	Name    string
	Pattern *regexp.Regexp
	Bonus   float64 // <= 0 means DefaultStrongSignalBonus
}

// AgentDescriptor is the static vocabulary of a domain agent.
// It is immutable once the agent is registered.
type AgentDescriptor struct {
	ID            string
	Name          string
	Description   string
	Intents       []string
	DefaultIntent string
	Keywords      []string
	StrongSignals []StrongSignal
	Priority      int // lower wins ties
}

// HasIntent reports whether intent belongs to this agent.
func (d AgentDescriptor) HasIntent(intent string) bool {
	return slices.Contains(d.Intents, intent)
}

// ScoreResult is the outcome of scoring a message against one agent.
// Keywords and Signals carry the evidence behind the score.
type ScoreResult struct {
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords,omitempty"`
	Signals  []string `json:"signals,omitempty"`
}

// HasStrongSignal reports whether any strong signal contributed to the score.
func (s ScoreResult) HasStrongSignal() bool { return len(s.Signals) > 0 }

// ClassificationMethod records which path produced an intent.
type ClassificationMethod string

const (
	MethodPattern  ClassificationMethod = "pattern"
	MethodRules    ClassificationMethod = "rules"
	MethodModel    ClassificationMethod = "model"
	MethodFallback ClassificationMethod = "fallback"
)

// Classification is an agent's answer to "what does this message want".
type Classification struct {
	Intent     string               `json:"intent"`
	Confidence float64              `json:"confidence"`
	Entities   Entities             `json:"entities,omitempty"`
	Method     ClassificationMethod `json:"method"`
	PatternID  string               `json:"pattern_id,omitempty"`
	Triggers   []string             `json:"triggers,omitempty"`
	Template   string               `json:"template,omitempty"`
	Response   string               `json:"response,omitempty"`
}

// DomainAgent is one routing target. Score and Classify are pure functions
// of the message and the agent's static vocabulary. Classify returns the
// rule-based intent together with every entity the agent recognizes.
type DomainAgent interface {
	Descriptor() AgentDescriptor
	Score(message string) ScoreResult
	Classify(message string) Classification
	Priority() int
}

// AgentInfo is the public summary of a registered agent.
type AgentInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Intents     []string `json:"intents"`
	Priority    int      `json:"priority"`
	Fallback    bool     `json:"fallback,omitempty"`
}

// RoutingDecision is the result of routing one message.
type RoutingDecision struct {
	InteractionID    string               `json:"interaction_id"`
	SessionID        string               `json:"session_id,omitempty"`
	AgentID          string               `json:"agent_id"`
	Intent           string               `json:"intent"`
	Confidence       float64              `json:"confidence"`
	Entities         Entities             `json:"entities"`
	MatchedPatternID string               `json:"matched_pattern_id,omitempty"`
	Method           ClassificationMethod `json:"method"`
	Score            float64              `json:"score"`
	Reason           string               `json:"reason"`
	Template         string               `json:"template"`
	Response         string               `json:"response,omitempty"`
}

// InboundMessage is a message arriving from a user.
type InboundMessage struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// AgentRouter selects an agent and intent for an inbound message.
type AgentRouter interface {
	Route(ctx context.Context, msg InboundMessage) (*RoutingDecision, error)
}

// ActionResult is what an executor reports after acting on a decision.
type ActionResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
}

// ActionExecutor performs the domain action behind a routing decision.
// It is the boundary to external services (mail, issue tracker, cluster).
type ActionExecutor interface {
	Execute(ctx context.Context, decision RoutingDecision) (*ActionResult, error)
}

// Outcome reports whether the action for an earlier decision succeeded.
// ResolvedIntent, when set, corrects the detected intent.
type Outcome struct {
	InteractionID  string `json:"interaction_id"`
	Success        bool   `json:"success"`
	ResolvedIntent string `json:"resolved_intent,omitempty"`
}
