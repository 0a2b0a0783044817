package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"deskmate/internal/adapter/tui/components"
	"deskmate/internal/domain"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

type fakeRouter struct {
	handled  []domain.InboundMessage
	outcomes []domain.Outcome
	result   *multiagent.HandleResult
	err      error
	outErr   error
}

func (f *fakeRouter) Handle(_ context.Context, msg domain.InboundMessage) (*multiagent.HandleResult, error) {
	f.handled = append(f.handled, msg)
	return f.result, f.err
}

func (f *fakeRouter) RecordOutcome(_ context.Context, out domain.Outcome) (*learning.Result, error) {
	f.outcomes = append(f.outcomes, out)
	if f.outErr != nil {
		return nil, f.outErr
	}
	return &learning.Result{
		Created: true,
		Pattern: &domain.Pattern{Template: "email {person}", Intent: "send_email", UsageCount: 1, SuccessCount: 1},
	}, nil
}

func (f *fakeRouter) Agents() []domain.AgentInfo {
	return []domain.AgentInfo{
		{ID: "email", Intents: []string{"send_email", "read_email"}},
		{ID: "general", Intents: []string{"chat"}, Fallback: true},
	}
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context) (*domain.PatternStats, error) {
	return &domain.PatternStats{TotalPatterns: 4, TotalIntents: 2, TotalInteractions: 10, SuccessRate: 0.75}, nil
}

func newTestModel(r *fakeRouter) Model {
	m := New(context.Background(), Deps{Router: r, Stats: fakeStats{}, MarkdownStyle: "notty"})
	nm, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return nm.(Model)
}

func update(m Model, msg tea.Msg) (Model, tea.Cmd) {
	nm, cmd := m.Update(msg)
	return nm.(Model), cmd
}

func submit(m Model, text string) (Model, tea.Cmd) {
	m.input.SetValue(text)
	return update(m, tea.KeyMsg{Type: tea.KeyEnter})
}

func lastMessage(m Model) components.ChatMessage {
	return m.messages.Messages[len(m.messages.Messages)-1]
}

func emailResult(executed bool) *multiagent.HandleResult {
	return &multiagent.HandleResult{
		Decision: &domain.RoutingDecision{
			InteractionID: "01INTERACTION",
			AgentID:       "email",
			Intent:        "send_email",
			Confidence:    0.9,
			Method:        domain.MethodRules,
		},
		Executed: executed,
	}
}

func TestSubmitRoutesMessage(t *testing.T) {
	r := &fakeRouter{result: emailResult(false)}
	m := newTestModel(r)

	m, cmd := submit(m, "  email sarah about the report ")
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if !m.waiting {
		t.Error("model should wait for the router")
	}
	if got := lastMessage(m); got.Role != components.RoleUser || got.Content != "email sarah about the report" {
		t.Errorf("last message = %+v", got)
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared")
	}

	msg := handleCmd(m.ctx, r, domain.InboundMessage{SessionID: DefaultSessionID, Content: "x"})()
	if _, ok := msg.(HandledMsg); !ok {
		t.Fatalf("handleCmd produced %T", msg)
	}
	if len(r.handled) != 1 || r.handled[0].SessionID != DefaultSessionID {
		t.Errorf("handled = %+v", r.handled)
	}
}

func TestSubmitEmptyIgnored(t *testing.T) {
	m := newTestModel(&fakeRouter{})
	m, cmd := submit(m, "   ")
	if cmd != nil || len(m.messages.Messages) != 0 {
		t.Error("blank input should be ignored")
	}
}

func TestRoutedDecisionAwaitsRating(t *testing.T) {
	m := newTestModel(&fakeRouter{})
	m.waiting = true

	m, _ = update(m, HandledMsg{Result: emailResult(false)})
	if m.waiting {
		t.Error("waiting should be cleared")
	}
	if m.pending != "01INTERACTION" {
		t.Errorf("pending = %q", m.pending)
	}
	got := lastMessage(m)
	if got.Role != components.RoleAgent || got.Decision == nil || !got.Decision.Pending {
		t.Fatalf("last message = %+v", got)
	}
	view := m.View()
	for _, want := range []string{"send_email", "email", "/intent"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestExecutedDecisionNotPending(t *testing.T) {
	m := newTestModel(&fakeRouter{})
	res := emailResult(true)
	res.Result = domain.ActionResult{Success: true, Response: "Sent."}

	m, _ = update(m, HandledMsg{Result: res})
	if m.pending != "" {
		t.Errorf("pending = %q, want empty", m.pending)
	}
	if got := lastMessage(m); got.Content != "Sent." || got.Decision.Pending {
		t.Errorf("last message = %+v", got)
	}
}

func TestRouteErrorShown(t *testing.T) {
	m := newTestModel(&fakeRouter{})
	m, _ = update(m, HandledMsg{Err: domain.ErrEmptyMessage})
	got := lastMessage(m)
	if got.Role != components.RoleError || !strings.Contains(got.Content, "Empty Message") {
		t.Errorf("last message = %+v", got)
	}
}

func TestRateOK(t *testing.T) {
	r := &fakeRouter{}
	m := newTestModel(r)
	m, _ = update(m, HandledMsg{Result: emailResult(false)})

	m, cmd := submit(m, "/ok")
	if cmd == nil {
		t.Fatal("expected outcome command")
	}
	out := cmd().(OutcomeMsg)
	if len(r.outcomes) != 1 || r.outcomes[0] != (domain.Outcome{InteractionID: "01INTERACTION", Success: true}) {
		t.Fatalf("outcomes = %+v", r.outcomes)
	}

	m, _ = update(m, out)
	if m.pending != "" {
		t.Error("pending should be cleared")
	}
	got := lastMessage(m)
	if !strings.Contains(got.Content, "Marked as correct.") || !strings.Contains(got.Content, "Learned pattern") {
		t.Errorf("last message = %q", got.Content)
	}
	if m.messages.Messages[len(m.messages.Messages)-2].Decision.Pending {
		t.Error("decision should no longer be pending")
	}
}

func TestRateNo(t *testing.T) {
	r := &fakeRouter{}
	m := newTestModel(r)
	m, _ = update(m, HandledMsg{Result: emailResult(false)})

	_, cmd := submit(m, "/no")
	cmd()
	if len(r.outcomes) != 1 || r.outcomes[0].Success {
		t.Errorf("outcomes = %+v", r.outcomes)
	}
}

func TestIntentCorrection(t *testing.T) {
	r := &fakeRouter{}
	m := newTestModel(r)
	m, _ = update(m, HandledMsg{Result: emailResult(false)})

	m, cmd := submit(m, "/intent")
	if cmd != nil {
		t.Fatal("missing argument should not rate")
	}
	if !strings.Contains(lastMessage(m).Content, "Usage") {
		t.Errorf("last message = %q", lastMessage(m).Content)
	}

	m, cmd = submit(m, "/intent read_email")
	m, _ = update(m, cmd())
	want := domain.Outcome{InteractionID: "01INTERACTION", Success: true, ResolvedIntent: "read_email"}
	if len(r.outcomes) != 1 || r.outcomes[0] != want {
		t.Errorf("outcomes = %+v", r.outcomes)
	}
	if !strings.Contains(lastMessage(m).Content, "Corrected to read_email.") {
		t.Errorf("last message = %q", lastMessage(m).Content)
	}
}

func TestRejectedCorrectionKeepsPending(t *testing.T) {
	r := &fakeRouter{outErr: errors.Join(domain.ErrInvalidInput, errors.New("intent not served"))}
	m := newTestModel(r)
	m, _ = update(m, HandledMsg{Result: emailResult(false)})

	m, cmd := submit(m, "/intent deploy")
	m, _ = update(m, cmd())
	if m.pending != "01INTERACTION" {
		t.Errorf("pending = %q, want it kept for a retry", m.pending)
	}
	if lastMessage(m).Role != components.RoleError {
		t.Error("expected an error message")
	}
}

func TestRateWithoutPending(t *testing.T) {
	m := newTestModel(&fakeRouter{})
	m, cmd := submit(m, "/ok")
	if cmd != nil {
		t.Error("nothing to rate should not produce a command")
	}
	if !strings.Contains(lastMessage(m).Content, "Nothing To Rate") {
		t.Errorf("last message = %q", lastMessage(m).Content)
	}
}

func TestInfoCommands(t *testing.T) {
	m := newTestModel(&fakeRouter{})

	m, _ = submit(m, "/help")
	if !strings.Contains(lastMessage(m).Content, "/intent <name>") {
		t.Errorf("help = %q", lastMessage(m).Content)
	}

	m, _ = submit(m, "/agents")
	if c := lastMessage(m).Content; !strings.Contains(c, "read_email") || !strings.Contains(c, "(fallback)") {
		t.Errorf("agents = %q", c)
	}

	m, cmd := submit(m, "/stats")
	m, _ = update(m, cmd())
	if c := lastMessage(m).Content; !strings.Contains(c, "Patterns: 4 across 2 intents") || !strings.Contains(c, "75% success") {
		t.Errorf("stats = %q", c)
	}

	m, _ = submit(m, "/bogus")
	if !strings.Contains(lastMessage(m).Content, "Unknown command /bogus") {
		t.Errorf("unknown = %q", lastMessage(m).Content)
	}

	m, _ = submit(m, "/clear")
	if len(m.messages.Messages) != 0 {
		t.Error("/clear should empty the conversation")
	}
}

func TestQuit(t *testing.T) {
	for _, key := range []tea.KeyMsg{{Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		m := newTestModel(&fakeRouter{})
		m, cmd := update(m, key)
		if cmd == nil || !m.quitting {
			t.Errorf("%v should quit", key)
		}
		if m.View() != "" {
			t.Error("View should be empty after quitting")
		}
	}

	m := newTestModel(&fakeRouter{})
	m, _ = submit(m, "/quit")
	if !m.quitting {
		t.Error("/quit should quit")
	}
}

func TestParseCommand(t *testing.T) {
	cmd, args := parseCommand("/Intent  send_email ")
	if cmd != "/intent" || len(args) != 1 || args[0] != "send_email" {
		t.Errorf("parseCommand = %q %v", cmd, args)
	}
	if cmd, _ := parseCommand(""); cmd != "" {
		t.Errorf("empty = %q", cmd)
	}
}
