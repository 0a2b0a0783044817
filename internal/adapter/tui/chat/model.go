// Package chat is the interactive console: type a request, see which agent
// took it and rate the decision so the learner can adapt.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"deskmate/internal/adapter/tui/components"
	"deskmate/internal/adapter/tui/theme"
	"deskmate/internal/adapter/tui/uxerror"
	"deskmate/internal/domain"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

// DefaultSessionID is the session used when Deps.SessionID is empty.
const DefaultSessionID = "console"

// Router is the part of the orchestrator the console drives.
type Router interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (*multiagent.HandleResult, error)
	RecordOutcome(ctx context.Context, out domain.Outcome) (*learning.Result, error)
	Agents() []domain.AgentInfo
}

// StatsSource reports pattern store statistics.
type StatsSource interface {
	Stats(ctx context.Context) (*domain.PatternStats, error)
}

// Deps are the dependencies injected into the console model.
type Deps struct {
	Router        Router
	Stats         StatsSource // can be nil
	SessionID     string
	ModelName     string
	MarkdownStyle string // glamour style; empty = auto
	Logger        *slog.Logger
}

// Model is the root Bubble Tea model of the console.
type Model struct {
	deps Deps
	ctx  context.Context

	messages  components.MessageListModel
	viewport  viewport.Model
	input     textinput.Model
	spinner   spinner.Model
	statusBar components.StatusBarModel

	waiting  bool
	pending  string // interaction awaiting a rating
	width    int
	height   int
	quitting bool
}

// New creates the console model. ctx bounds every routing call it makes.
func New(ctx context.Context, deps Deps) Model {
	if deps.SessionID == "" {
		deps.SessionID = DefaultSessionID
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	in := textinput.New()
	in.Placeholder = "Ask for something, or /help"
	in.Prompt = theme.InputPrompt.Render("> ")
	in.PlaceholderStyle = theme.InputPlaceholder
	in.CharLimit = 2000
	in.Focus()

	ml := components.NewMessageList()
	ml.MaxMessages = 500
	ml.MarkdownStyle = deps.MarkdownStyle

	sb := components.NewStatusBar()
	sb.AgentName = theme.SymbolBot
	sb.ModelName = deps.ModelName
	sb.Hints = []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "PgUp/PgDn", Desc: "Scroll"},
		{Key: "Esc", Desc: "Quit"},
	}

	return Model{
		deps:      deps,
		ctx:       ctx,
		messages:  ml,
		viewport:  viewport.New(80, 20),
		input:     in,
		spinner:   s,
		statusBar: sb,
	}
}

// Init starts the cursor blink and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case HandledMsg:
		return m.handleRouted(msg), nil

	case OutcomeMsg:
		return m.handleOutcome(msg), nil

	case StatsMsg:
		m.waiting = false
		m.statusBar.Extra = ""
		if msg.Err != nil {
			m.addError(msg.Err)
		} else {
			m.addSystem(statsText(msg.Stats))
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		m.quitting = true
		return m, tea.Quit
	case tea.KeyEnter:
		value := m.input.Value()
		m.input.Reset()
		return m.handleSubmit(value)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleSubmit(value string) (tea.Model, tea.Cmd) {
	value = strings.TrimSpace(value)
	if value == "" {
		return m, nil
	}
	if strings.HasPrefix(value, "/") {
		cmd, args := parseCommand(value)
		return m.handleSlashCommand(cmd, args)
	}
	if m.waiting {
		m.addSystem("Still working on the previous message.")
		return m, nil
	}

	m.messages.Add(components.ChatMessage{Role: components.RoleUser, Content: value})
	m.waiting = true
	m.statusBar.Extra = "routing" + theme.SymbolEllipsis
	m.refresh()
	return m, tea.Batch(
		handleCmd(m.ctx, m.deps.Router, domain.InboundMessage{SessionID: m.deps.SessionID, Content: value}),
		m.spinner.Tick,
	)
}

func (m Model) handleSlashCommand(cmd string, args []string) (tea.Model, tea.Cmd) {
	switch cmd {
	case "/quit", "/exit":
		m.quitting = true
		return m, tea.Quit
	case "/help":
		m.addSystem(helpText())
	case "/clear":
		m.messages.Clear()
		m.pending = ""
		m.refresh()
	case "/agents":
		m.addSystem(agentsText(m.deps.Router.Agents()))
	case "/stats":
		if m.deps.Stats == nil {
			m.addSystem("Statistics are not available.")
			return m, nil
		}
		m.waiting = true
		return m, statsCmd(m.ctx, m.deps.Stats)
	case "/ok", "/no":
		return m.rate(domain.Outcome{Success: cmd == "/ok"})
	case "/intent":
		if len(args) != 1 {
			m.addSystem("Usage: /intent <name>")
			return m, nil
		}
		return m.rate(domain.Outcome{Success: true, ResolvedIntent: args[0]})
	default:
		m.addSystem(fmt.Sprintf("Unknown command %s. Type /help.", cmd))
	}
	return m, nil
}

func (m Model) rate(out domain.Outcome) (tea.Model, tea.Cmd) {
	if m.pending == "" {
		m.addError(domain.ErrInteractionNotFound)
		return m, nil
	}
	out.InteractionID = m.pending
	m.waiting = true
	return m, outcomeCmd(m.ctx, m.deps.Router, out)
}

func (m Model) handleRouted(msg HandledMsg) Model {
	m.waiting = false
	m.statusBar.Extra = ""
	if msg.Err != nil {
		m.deps.Logger.Debug("route failed", "error", msg.Err)
		m.addError(msg.Err)
		return m
	}

	d := msg.Result.Decision
	content := msg.Result.Result.Response
	if content == "" {
		content = fmt.Sprintf("Routed to **%s** as `%s`.", d.AgentID, d.Intent)
	}
	// Executed decisions were rated by their executor already.
	m.messages.ResolveLast()
	m.pending = ""
	if !msg.Result.Executed {
		m.pending = d.InteractionID
	}
	m.messages.Add(components.ChatMessage{
		Role:    components.RoleAgent,
		Content: content,
		Decision: &components.DecisionSummary{
			Agent:      d.AgentID,
			Intent:     d.Intent,
			Confidence: d.Confidence,
			Method:     string(d.Method),
			Pending:    !msg.Result.Executed,
		},
	})
	m.refresh()
	return m
}

func (m Model) handleOutcome(msg OutcomeMsg) Model {
	m.waiting = false
	if msg.Err != nil {
		// Not-found means the interaction is gone; a bad intent can be retried.
		if errors.Is(msg.Err, domain.ErrInteractionNotFound) {
			m.pending = ""
			m.messages.ResolveLast()
		}
		m.addError(msg.Err)
		return m
	}
	m.pending = ""
	m.messages.ResolveLast()
	m.addSystem(outcomeText(msg.Outcome, msg.Result))
	return m
}

func outcomeText(out domain.Outcome, res *learning.Result) string {
	var sb strings.Builder
	switch {
	case out.ResolvedIntent != "":
		fmt.Fprintf(&sb, "Corrected to %s.", out.ResolvedIntent)
	case out.Success:
		sb.WriteString("Marked as correct.")
	default:
		sb.WriteString("Marked as wrong.")
	}
	if res == nil || res.Pattern == nil {
		return sb.String()
	}
	p := res.Pattern
	verb := "Updated"
	if res.Created {
		verb = "Learned"
	}
	fmt.Fprintf(&sb, " %s pattern %q for %s (%d/%d successful).",
		verb, p.Template, p.Intent, p.SuccessCount, p.UsageCount)
	return sb.String()
}

func (m *Model) addSystem(text string) {
	m.messages.Add(components.ChatMessage{Role: components.RoleSystem, Content: text})
	m.refresh()
}

func (m *Model) addError(err error) {
	m.messages.Add(components.ChatMessage{Role: components.RoleError, Content: uxerror.Humanize(err).Render()})
	m.refresh()
}

// refresh re-renders the message list into the viewport and scrolls down.
func (m *Model) refresh() {
	m.viewport.SetContent(m.messages.View())
	m.viewport.GotoBottom()
}

func (m *Model) layout() {
	// Input line, status bar and a divider.
	const chrome = 3
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chrome, 1)
	m.input.Width = max(m.width-4, 10)
	m.messages.SetWidth(m.width)
	m.statusBar.SetWidth(m.width)
	m.refresh()
}

// View renders the conversation, the input line and the status bar.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	input := m.input.View()
	if m.waiting {
		input = m.spinner.View() + " " + theme.TextMuted.Render("working"+theme.SymbolEllipsis)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		components.Divider(max(m.width, 1)),
		input,
		m.statusBar.View(),
	)
}

// Run starts the console in the alternate screen and blocks until exit.
func Run(ctx context.Context, deps Deps) error {
	p := tea.NewProgram(New(ctx, deps), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
