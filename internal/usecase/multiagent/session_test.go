package multiagent

import (
	"reflect"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTracker(size int, ttl time.Duration) (*SessionTracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
	tr := NewSessionTracker(size, ttl, 1.5)
	tr.now = clock.now
	return tr, clock
}

func TestSessionTrackerBonusesHalve(t *testing.T) {
	tr, _ := newTracker(3, time.Minute)
	tr.Record("s1", "mail")
	tr.Record("s1", "cluster")
	tr.Record("s1", "issues")

	want := map[string]float64{"issues": 1.5, "cluster": 0.75, "mail": 0.375}
	if got := tr.Bonuses("s1"); !reflect.DeepEqual(got, want) {
		t.Errorf("Bonuses = %v, want %v", got, want)
	}
}

func TestSessionTrackerKeepsLastN(t *testing.T) {
	tr, _ := newTracker(2, time.Minute)
	tr.Record("s1", "a")
	tr.Record("s1", "b")
	tr.Record("s1", "c")

	if got := tr.Recent("s1"); !reflect.DeepEqual(got, []string{"c", "b"}) {
		t.Errorf("Recent = %v, want [c b]", got)
	}
}

func TestSessionTrackerMovesRepeatToFront(t *testing.T) {
	tr, _ := newTracker(3, time.Minute)
	tr.Record("s1", "a")
	tr.Record("s1", "b")
	tr.Record("s1", "a")

	if got := tr.Recent("s1"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Recent = %v, want [a b]", got)
	}
}

func TestSessionTrackerExpires(t *testing.T) {
	tr, clock := newTracker(3, time.Minute)
	tr.Record("s1", "a")
	tr.Record("s2", "b")

	clock.advance(30 * time.Second)
	tr.Record("s2", "c")
	clock.advance(45 * time.Second)

	if got := tr.Bonuses("s1"); got != nil {
		t.Errorf("expired session should have no bonus, got %v", got)
	}
	if got := tr.Bonuses("s2"); got["c"] != 1.5 {
		t.Errorf("live session lost its bonus: %v", got)
	}

	clock.advance(time.Minute)
	if n := tr.Prune(); n != 1 {
		t.Errorf("Prune = %d, want 1", n)
	}
	if tr.Len() != 0 {
		t.Errorf("Len = %d, want 0", tr.Len())
	}
}

func TestSessionTrackerIgnoresAnonymous(t *testing.T) {
	tr, _ := newTracker(3, time.Minute)
	tr.Record("", "a")
	if tr.Len() != 0 {
		t.Error("anonymous messages must not create sessions")
	}
	if tr.Bonuses("") != nil {
		t.Error("anonymous messages get no bonus")
	}
}

func TestSessionTrackerForget(t *testing.T) {
	tr, _ := newTracker(3, time.Minute)
	tr.Record("s1", "a")
	tr.Forget("s1")
	if tr.Recent("s1") != nil {
		t.Error("Forget should drop the session")
	}
}

func TestSessionTrackerDefaults(t *testing.T) {
	tr := NewSessionTracker(0, 0, 0)
	if tr.size != DefaultContextSize || tr.ttl != DefaultContextTTL || tr.bonus != DefaultContextBonus {
		t.Errorf("defaults not applied: %d %v %v", tr.size, tr.ttl, tr.bonus)
	}
}
