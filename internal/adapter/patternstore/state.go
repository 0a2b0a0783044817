package patternstore

import (
	"slices"
	"sort"
	"time"

	"deskmate/internal/domain"
)

// state is the in-memory form of a pattern store. It is not synchronized.
type state struct {
	patterns     map[string]domain.Pattern
	intents      map[string][]string // intent -> pattern IDs in insertion order
	byTemplate   map[string][]string // agentID \x00 template -> pattern IDs
	interactions []domain.Interaction
	meta         domain.SnapshotMetadata
}

func newState(now time.Time) *state {
	return &state{
		patterns:     make(map[string]domain.Pattern),
		intents:      make(map[string][]string),
		byTemplate:   make(map[string][]string),
		interactions: []domain.Interaction{},
		meta: domain.SnapshotMetadata{
			Created:     now,
			LastUpdated: now,
			Version:     domain.SnapshotVersion,
		},
	}
}

func templateKey(agentID, template string) string {
	return agentID + "\x00" + template
}

// stateFromSnapshot rebuilds a state, keeping the snapshot's intent index
// order and indexing any pattern the snapshot left out.
func stateFromSnapshot(snap *domain.PatternSnapshot) *state {
	s := &state{
		patterns:     make(map[string]domain.Pattern, len(snap.Patterns)),
		intents:      make(map[string][]string, len(snap.Intents)),
		byTemplate:   make(map[string][]string, len(snap.Patterns)),
		interactions: slices.Clone(snap.Interactions),
		meta:         snap.Metadata,
	}
	if s.interactions == nil {
		s.interactions = []domain.Interaction{}
	}
	if s.meta.Version == "" {
		s.meta.Version = domain.SnapshotVersion
	}

	indexed := make(map[string]bool, len(snap.Patterns))
	for intent, ids := range snap.Intents {
		for _, id := range ids {
			if _, ok := snap.Patterns[id]; ok && !indexed[id] {
				s.intents[intent] = append(s.intents[intent], id)
				indexed[id] = true
			}
		}
	}
	for _, id := range sortedKeys(snap.Patterns) {
		p := snap.Patterns[id]
		s.patterns[id] = p
		if !indexed[id] {
			s.intents[p.Intent] = append(s.intents[p.Intent], id)
		}
		k := templateKey(p.AgentID, p.Template)
		s.byTemplate[k] = append(s.byTemplate[k], id)
	}
	return s
}

// snapshot deep-copies the state.
func (s *state) snapshot() *domain.PatternSnapshot {
	snap := &domain.PatternSnapshot{
		Patterns:     make(map[string]domain.Pattern, len(s.patterns)),
		Intents:      make(map[string][]string, len(s.intents)),
		Interactions: make([]domain.Interaction, len(s.interactions)),
		Metadata:     s.meta,
	}
	for id, p := range s.patterns {
		snap.Patterns[id] = p
	}
	for intent, ids := range s.intents {
		snap.Intents[intent] = slices.Clone(ids)
	}
	for i, in := range s.interactions {
		in.Entities = slices.Clone(in.Entities)
		snap.Interactions[i] = in
	}
	return snap
}

// find returns the pattern with the given identity triple.
func (s *state) find(agentID, intent, template string) (domain.Pattern, bool) {
	for _, id := range s.byTemplate[templateKey(agentID, template)] {
		if p := s.patterns[id]; p.Intent == intent {
			return p, true
		}
	}
	return domain.Pattern{}, false
}

// put inserts or replaces p, keeping both indexes consistent.
func (s *state) put(p domain.Pattern) {
	if old, ok := s.patterns[p.ID]; ok {
		if old.Intent != p.Intent {
			s.intents[old.Intent] = remove(s.intents[old.Intent], p.ID)
			if len(s.intents[old.Intent]) == 0 {
				delete(s.intents, old.Intent)
			}
			s.intents[p.Intent] = append(s.intents[p.Intent], p.ID)
		}
		if old.AgentID != p.AgentID || old.Template != p.Template {
			k := templateKey(old.AgentID, old.Template)
			s.byTemplate[k] = remove(s.byTemplate[k], p.ID)
			if len(s.byTemplate[k]) == 0 {
				delete(s.byTemplate, k)
			}
			nk := templateKey(p.AgentID, p.Template)
			s.byTemplate[nk] = append(s.byTemplate[nk], p.ID)
		}
	} else {
		s.intents[p.Intent] = append(s.intents[p.Intent], p.ID)
		k := templateKey(p.AgentID, p.Template)
		s.byTemplate[k] = append(s.byTemplate[k], p.ID)
	}
	s.patterns[p.ID] = p
}

// appendInteractions adds ins and trims the log to limit entries (0 = no cap).
func (s *state) appendInteractions(limit int, ins ...domain.Interaction) {
	s.interactions = append(s.interactions, ins...)
	if limit > 0 && len(s.interactions) > limit {
		s.interactions = slices.Clone(s.interactions[len(s.interactions)-limit:])
	}
}

func (s *state) listByIntent(intent string) []domain.Pattern {
	ids := s.intents[intent]
	out := make([]domain.Pattern, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.patterns[id])
	}
	domain.RankPatterns(out)
	return out
}

func (s *state) lookup(agentID, template string) []domain.Pattern {
	ids := s.byTemplate[templateKey(agentID, template)]
	out := make([]domain.Pattern, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.patterns[id])
	}
	domain.RankPatterns(out)
	return out
}

// recent returns up to limit interactions, most recent first.
func (s *state) recent(limit int) []domain.Interaction {
	n := len(s.interactions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.Interaction, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.interactions[n-1-i]
	}
	return out
}

func (s *state) stats() *domain.PatternStats {
	st := &domain.PatternStats{
		TotalPatterns:     len(s.patterns),
		TotalInteractions: len(s.interactions),
		LastUpdated:       s.meta.LastUpdated,
	}
	for _, ids := range s.intents {
		if len(ids) > 0 {
			st.TotalIntents++
		}
	}
	st.SuccessRate = successRate(s.interactions)
	return st
}

// merge adds the patterns of snap whose ID and identity are both unseen,
// then appends its interactions.
func (s *state) merge(snap *domain.PatternSnapshot, maxInteractions int) (added int) {
	for _, id := range sortedKeys(snap.Patterns) {
		p := snap.Patterns[id]
		if _, exists := s.patterns[id]; exists {
			continue
		}
		if _, exists := s.find(p.AgentID, p.Intent, p.Template); exists {
			continue
		}
		s.put(p)
		added++
	}
	s.appendInteractions(maxInteractions, snap.Interactions...)
	return added
}

func successRate(ins []domain.Interaction) float64 {
	if len(ins) == 0 {
		return 0
	}
	ok := 0
	for _, in := range ins {
		if in.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(ins))
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(ids), func(v string) bool { return v == id })
}

func sortedKeys(m map[string]domain.Pattern) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
