package agents

import (
	"fmt"
	"slices"

	"deskmate/internal/domain"
)

// Override adjusts a built-in agent at startup.
type Override struct {
	Disabled bool
	Priority int      // 0 keeps the declared priority
	Keywords []string // appended to the declared keywords
}

// WithOverride returns a copy of s with o applied.
func (s Spec) WithOverride(o Override) Spec {
	if o.Priority != 0 {
		s.Descriptor.Priority = o.Priority
	}
	if len(o.Keywords) > 0 {
		s.Descriptor.Keywords = append(slices.Clone(s.Descriptor.Keywords), o.Keywords...)
	}
	return s
}

// Build compiles specs in order, applying overrides by agent ID.
// Disabled agents are skipped; the fallback agent cannot be disabled.
func Build(specs []Spec, overrides map[string]Override, fallbackID string, opts ...Option) ([]*RuleAgent, error) {
	out := make([]*RuleAgent, 0, len(specs))
	for _, s := range specs {
		id := s.Descriptor.ID
		if o, ok := overrides[id]; ok {
			if o.Disabled {
				if id == fallbackID {
					return nil, fmt.Errorf("%w: fallback agent %q cannot be disabled", domain.ErrInvalidInput, id)
				}
				continue
			}
			s = s.WithOverride(o)
		}
		a, err := New(s, opts...)
		if err != nil {
			return nil, fmt.Errorf("build agent %s: %w", id, err)
		}
		out = append(out, a)
	}
	for id := range overrides {
		if !slices.ContainsFunc(specs, func(s Spec) bool { return s.Descriptor.ID == id }) {
			return nil, fmt.Errorf("%w: override for unknown agent %q", domain.ErrNotFound, id)
		}
	}
	return out, nil
}
