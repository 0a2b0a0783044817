package domain

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// SnapshotVersion is written into every persisted pattern snapshot.
const SnapshotVersion = "1.0"

// DefaultSeedConfidence is the confidence given to a freshly learned pattern.
const DefaultSeedConfidence = 0.8

// Pattern is a learned (template, intent) pair with usage statistics.
// SuccessCount never exceeds UsageCount.
type Pattern struct {
	ID           string    `json:"pattern_id"`
	AgentID      string    `json:"agent_id"`
	Intent       string    `json:"intent"`
	Template     string    `json:"template"`
	Confidence   float64   `json:"confidence"`
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// SuccessRate is SuccessCount/UsageCount, or 0 for an unused pattern.
func (p Pattern) SuccessRate() float64 {
	if p.UsageCount <= 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(p.UsageCount)
}

// Validate checks the structural invariants of a pattern record.
func (p Pattern) Validate() error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: pattern_id is empty", ErrInvalidInput)
	case p.Intent == "":
		return fmt.Errorf("%w: pattern %s: intent is empty", ErrInvalidInput, p.ID)
	case p.Template == "":
		return fmt.Errorf("%w: pattern %s: template is empty", ErrInvalidInput, p.ID)
	case p.UsageCount < 0 || p.SuccessCount < 0:
		return fmt.Errorf("%w: pattern %s: negative counters", ErrInvalidInput, p.ID)
	case p.SuccessCount > p.UsageCount:
		return fmt.Errorf("%w: pattern %s: success_count %d exceeds usage_count %d",
			ErrInvalidInput, p.ID, p.SuccessCount, p.UsageCount)
	case p.Confidence < 0 || p.Confidence > 1:
		return fmt.Errorf("%w: pattern %s: confidence %.2f out of range", ErrInvalidInput, p.ID, p.Confidence)
	}
	return nil
}

// RankPatterns orders patterns best first: success rate, then usage,
// then age, then ID so the order is total.
func RankPatterns(ps []Pattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		ri, rj := ps[i].SuccessRate(), ps[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		if ps[i].UsageCount != ps[j].UsageCount {
			return ps[i].UsageCount > ps[j].UsageCount
		}
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.Before(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

// Interaction is one routed message and, once known, its outcome.
type Interaction struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id,omitempty"`
	AgentID        string    `json:"agent_id"`
	Message        string    `json:"message"`
	Template       string    `json:"template"`
	DetectedIntent string    `json:"detected_intent"`
	ResolvedIntent string    `json:"resolved_intent"`
	Entities       Entities  `json:"entities,omitempty"`
	Success        bool      `json:"success"`
	PatternID      string    `json:"pattern_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Intent returns the resolved intent, falling back to the detected one.
func (in Interaction) Intent() string {
	if in.ResolvedIntent != "" {
		return in.ResolvedIntent
	}
	return in.DetectedIntent
}

// SnapshotMetadata describes a persisted snapshot.
type SnapshotMetadata struct {
	Created     time.Time `json:"created"`
	LastUpdated time.Time `json:"last_updated"`
	Version     string    `json:"version"`
}

// PatternSnapshot is the complete, portable state of a pattern store.
// Intents indexes intent name -> pattern IDs.
type PatternSnapshot struct {
	Patterns     map[string]Pattern  `json:"patterns"`
	Intents      map[string][]string `json:"intents"`
	Interactions []Interaction       `json:"interactions"`
	Metadata     SnapshotMetadata    `json:"metadata"`
}

// NewPatternSnapshot returns an empty snapshot stamped with now.
func NewPatternSnapshot(now time.Time) *PatternSnapshot {
	return &PatternSnapshot{
		Patterns:     make(map[string]Pattern),
		Intents:      make(map[string][]string),
		Interactions: []Interaction{},
		Metadata: SnapshotMetadata{
			Created:     now,
			LastUpdated: now,
			Version:     SnapshotVersion,
		},
	}
}

// Validate checks every pattern and the consistency of the intent index.
func (s *PatternSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrSnapshotInvalid)
	}
	for key, p := range s.Patterns {
		if key != p.ID {
			return fmt.Errorf("%w: pattern key %q does not match pattern_id %q", ErrSnapshotInvalid, key, p.ID)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotInvalid, err)
		}
	}
	for intent, ids := range s.Intents {
		for _, id := range ids {
			p, ok := s.Patterns[id]
			if !ok {
				return fmt.Errorf("%w: intent %q references unknown pattern %q", ErrSnapshotInvalid, intent, id)
			}
			if p.Intent != intent {
				return fmt.Errorf("%w: pattern %q indexed under %q but has intent %q", ErrSnapshotInvalid, id, intent, p.Intent)
			}
		}
	}
	return nil
}

// ImportMode selects how an imported snapshot combines with existing state.
type ImportMode string

const (
	// ImportReplace discards current state and restores the snapshot exactly.
	ImportReplace ImportMode = "replace"
	// ImportMerge adds unseen patterns and appends interactions.
	ImportMerge ImportMode = "merge"
)

// PatternStats summarizes a pattern store.
type PatternStats struct {
	TotalPatterns     int       `json:"total_patterns"`
	TotalIntents      int       `json:"total_intents"`
	TotalInteractions int       `json:"total_interactions"`
	SuccessRate       float64   `json:"success_rate"`
	LastUpdated       time.Time `json:"last_updated"`
}

// PatternTx is the view of a store inside an Update transaction.
// Reads observe writes made earlier in the same transaction.
type PatternTx interface {
	Get(id string) (Pattern, bool)
	FindTemplate(agentID, intent, template string) (Pattern, bool)
	Put(p Pattern) error
	AppendInteraction(in Interaction) error
}

// PatternStore persists learned patterns and the interaction log.
// Readers run concurrently; Update transactions are serialized and applied
// all-or-nothing.
type PatternStore interface {
	Get(ctx context.Context, id string) (*Pattern, error)
	Put(ctx context.Context, p Pattern) error
	// ListByIntent returns the patterns of an intent, best first.
	ListByIntent(ctx context.Context, intent string) ([]Pattern, error)
	// Lookup returns patterns of agentID whose template equals template, best first.
	Lookup(ctx context.Context, agentID, template string) ([]Pattern, error)
	Update(ctx context.Context, fn func(tx PatternTx) error) error
	// Interactions returns up to limit interactions, most recent first.
	Interactions(ctx context.Context, limit int) ([]Interaction, error)
	Export(ctx context.Context) (*PatternSnapshot, error)
	Import(ctx context.Context, snap *PatternSnapshot, mode ImportMode) error
	Stats(ctx context.Context) (*PatternStats, error)
	Flush(ctx context.Context) error
	Close() error
}
