package multiagent

import (
	"sync"
	"time"
)

// Session context defaults.
const (
	DefaultContextSize  = 3
	DefaultContextTTL   = 10 * time.Minute
	DefaultContextBonus = 1.5
)

type sessionHistory struct {
	agents  []string // most recent first, distinct
	touched time.Time
}

// SessionTracker remembers the last agents selected in each session so
// short follow-ups ("yes, do it") stay with the agent the user was talking to.
type SessionTracker struct {
	mu       sync.Mutex
	size     int
	ttl      time.Duration
	bonus    float64
	now      func() time.Time
	sessions map[string]*sessionHistory
}

// NewSessionTracker keeps up to size agents per session for ttl after the
// last message. Non-positive arguments take the defaults.
func NewSessionTracker(size int, ttl time.Duration, bonus float64) *SessionTracker {
	if size <= 0 {
		size = DefaultContextSize
	}
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	if bonus <= 0 {
		bonus = DefaultContextBonus
	}
	return &SessionTracker{
		size:     size,
		ttl:      ttl,
		bonus:    bonus,
		now:      time.Now,
		sessions: make(map[string]*sessionHistory),
	}
}

// Bonuses returns the context bonus per agent for a session: the most
// recent agent gets the full bonus and each older one half the previous.
func (t *SessionTracker) Bonuses(sessionID string) map[string]float64 {
	if sessionID == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	if t.now().Sub(h.touched) > t.ttl {
		delete(t.sessions, sessionID)
		return nil
	}
	out := make(map[string]float64, len(h.agents))
	b := t.bonus
	for _, id := range h.agents {
		out[id] = b
		b /= 2
	}
	return out
}

// Record marks agentID as the latest agent of the session.
func (t *SessionTracker) Record(sessionID, agentID string) {
	if sessionID == "" || agentID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.sessions[sessionID]
	if !ok || t.now().Sub(h.touched) > t.ttl {
		h = &sessionHistory{}
		t.sessions[sessionID] = h
	}
	agents := make([]string, 0, t.size)
	agents = append(agents, agentID)
	for _, id := range h.agents {
		if id != agentID && len(agents) < t.size {
			agents = append(agents, id)
		}
	}
	h.agents = agents
	h.touched = t.now()
}

// Recent returns the agents of a live session, most recent first.
func (t *SessionTracker) Recent(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.sessions[sessionID]
	if !ok || t.now().Sub(h.touched) > t.ttl {
		return nil
	}
	return append([]string(nil), h.agents...)
}

// Forget drops a session's history.
func (t *SessionTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// Prune drops every expired session and returns how many were removed.
func (t *SessionTracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for id, h := range t.sessions {
		if now.Sub(h.touched) > t.ttl {
			delete(t.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked sessions.
func (t *SessionTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}
