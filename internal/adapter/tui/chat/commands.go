package chat

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"deskmate/internal/domain"
)

// commandHelp is shown by /help, in display order.
var commandHelp = [][2]string{
	{"/ok", "the last decision was right"},
	{"/no", "the last decision was wrong"},
	{"/intent <name>", "correct the intent of the last decision"},
	{"/agents", "list registered agents"},
	{"/stats", "show learned pattern statistics"},
	{"/clear", "clear the conversation"},
	{"/quit", "exit"},
}

// parseCommand splits "/intent send_email" into ("/intent", ["send_email"]).
func parseCommand(input string) (string, []string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:")
	for _, c := range commandHelp {
		fmt.Fprintf(&sb, "\n%-16s %s", c[0], c[1])
	}
	return sb.String()
}

func agentsText(agents []domain.AgentInfo) string {
	var sb strings.Builder
	sb.WriteString("Agents:")
	for _, a := range agents {
		fmt.Fprintf(&sb, "\n%-10s %s", a.ID, strings.Join(a.Intents, ", "))
		if a.Fallback {
			sb.WriteString(" (fallback)")
		}
	}
	return sb.String()
}

func statsText(s *domain.PatternStats) string {
	return fmt.Sprintf("Patterns: %d across %d intents, %d interactions, %.0f%% success",
		s.TotalPatterns, s.TotalIntents, s.TotalInteractions, s.SuccessRate*100)
}

// handleCmd routes msg off the UI goroutine.
func handleCmd(ctx context.Context, r Router, msg domain.InboundMessage) tea.Cmd {
	return func() tea.Msg {
		res, err := r.Handle(ctx, msg)
		return HandledMsg{Result: res, Err: err}
	}
}

func outcomeCmd(ctx context.Context, r Router, out domain.Outcome) tea.Cmd {
	return func() tea.Msg {
		res, err := r.RecordOutcome(ctx, out)
		return OutcomeMsg{Outcome: out, Result: res, Err: err}
	}
}

func statsCmd(ctx context.Context, s StatsSource) tea.Cmd {
	return func() tea.Msg {
		st, err := s.Stats(ctx)
		return StatsMsg{Stats: st, Err: err}
	}
}
