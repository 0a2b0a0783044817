package multiagent

import (
	"fmt"
	"log/slog"
	"strings"

	"deskmate/internal/domain"
	"deskmate/internal/infra/logger"
)

// PrefixRouter parses an @agent-name prefix from the message content.
type PrefixRouter struct {
	known  map[string]string // name -> agentID
	logger *slog.Logger
}

// NewPrefixRouter creates a router that parses @agent-name prefixes.
// agentNames maps lowercase agent names to their IDs.
func NewPrefixRouter(agentNames map[string]string, log *slog.Logger) *PrefixRouter {
	if log == nil {
		log = logger.Discard()
	}
	return &PrefixRouter{known: agentNames, logger: log}
}

// Match returns the addressed agent and the message without its prefix.
// ok is false when there is no prefix or the name is unknown; the message
// is then routed by score with its content untouched.
func (r *PrefixRouter) Match(content string) (agentID, rest string, ok bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "@") {
		return "", content, false
	}

	// Extract the name after @, up to the first space.
	name, rest, _ := strings.Cut(content[1:], " ")
	name = strings.TrimRight(strings.ToLower(name), ":,")

	agentID, ok = r.known[name]
	if !ok {
		r.logger.Debug("unknown @prefix, routing by score", "prefix", name)
		return "", content, false
	}
	r.logger.Debug("prefix matched agent", "prefix", name, "agent_id", agentID)
	return agentID, strings.TrimSpace(rest), true
}

// candidate is one agent's standing for a message.
type candidate struct {
	agent domain.DomainAgent
	index int // registration order
	score domain.ScoreResult
	bonus float64 // session context
}

func (c candidate) total() float64 { return c.score.Score + c.bonus }

// selection is the outcome of choosing among candidates.
type selection struct {
	winner   candidate
	tied     []string // agent IDs sharing the top score, winner first
	fallback bool
}

// choose applies the selection rules: candidates at or below zero are out;
// the highest total wins; equal totals go to the lowest priority value and
// then to the earliest registration. ok is false when nothing is eligible.
func choose(cands []candidate) (selection, bool) {
	var best *candidate
	for i := range cands {
		c := &cands[i]
		if c.total() <= 0 {
			continue
		}
		if best == nil || better(*c, *best) {
			best = c
		}
	}
	if best == nil {
		return selection{}, false
	}

	sel := selection{winner: *best}
	for _, c := range cands {
		if c.total() == best.total() {
			id := c.agent.Descriptor().ID
			if c.index == best.index {
				sel.tied = append([]string{id}, sel.tied...)
			} else {
				sel.tied = append(sel.tied, id)
			}
		}
	}
	if len(sel.tied) == 1 {
		sel.tied = nil
	}
	return sel, true
}

func better(a, b candidate) bool {
	if a.total() != b.total() {
		return a.total() > b.total()
	}
	if pa, pb := a.agent.Priority(), b.agent.Priority(); pa != pb {
		return pa < pb
	}
	return a.index < b.index
}

// reason explains a selection in one line.
func (s selection) reason() string {
	var b strings.Builder
	fmt.Fprintf(&b, "score %.1f", s.winner.total())
	var parts []string
	if len(s.winner.score.Keywords) > 0 {
		parts = append(parts, "keywords: "+strings.Join(s.winner.score.Keywords, ", "))
	}
	if len(s.winner.score.Signals) > 0 {
		parts = append(parts, "signals: "+strings.Join(s.winner.score.Signals, ", "))
	}
	if s.winner.bonus > 0 {
		parts = append(parts, fmt.Sprintf("session context +%.2f", s.winner.bonus))
	}
	if len(parts) > 0 {
		b.WriteString(" (" + strings.Join(parts, "; ") + ")")
	}
	if len(s.tied) > 1 {
		fmt.Fprintf(&b, "; tie with %s broken by priority/registration order", strings.Join(s.tied[1:], ", "))
	}
	return b.String()
}
