package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"deskmate/internal/adapter/tui/theme"
)

// DecisionSummary is the routing metadata shown above an agent reply.
type DecisionSummary struct {
	Agent      string
	Intent     string
	Confidence float64
	Method     string
	Pending    bool // waiting for the user to rate the decision
}

// MessageRole identifies the sender of a chat message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
	RoleError  MessageRole = "error"
)

// ChatMessage is a single entry in the conversation.
type ChatMessage struct {
	Role      MessageRole
	Content   string
	Rendered  string // cached glamour output; empty means not yet rendered
	Timestamp time.Time
	Decision  *DecisionSummary // agent replies only
}

// MessageListModel keeps an ordered, optionally capped list of messages.
type MessageListModel struct {
	Messages    []ChatMessage
	MaxMessages int // 0 = unlimited; positive = ring buffer cap
	// MarkdownStyle is a glamour standard style name. Empty picks a style
	// from the terminal background.
	MarkdownStyle string
	trimCount     int
	width         int
	mdRenderer    *glamour.TermRenderer
}

// NewMessageList creates an empty message list.
func NewMessageList() MessageListModel {
	return MessageListModel{}
}

// SetWidth updates the rendering width and drops cached renders.
func (m *MessageListModel) SetWidth(w int) {
	if w == m.width {
		return
	}
	m.width = w
	m.mdRenderer = nil
	for i := range m.Messages {
		m.Messages[i].Rendered = ""
	}
}

// TrimmedIndicator returns a note when older messages were dropped.
func (m *MessageListModel) TrimmedIndicator() string {
	if m.trimCount == 0 {
		return ""
	}
	return fmt.Sprintf("(%d older messages trimmed)", m.trimCount)
}

// Add appends a message, trimming the oldest past MaxMessages.
func (m *MessageListModel) Add(msg ChatMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.Messages = append(m.Messages, msg)
	if m.MaxMessages > 0 && len(m.Messages) > m.MaxMessages {
		excess := len(m.Messages) - m.MaxMessages
		m.Messages = m.Messages[excess:]
		m.trimCount += excess
	}
}

// Clear removes all messages.
func (m *MessageListModel) Clear() {
	m.Messages = nil
	m.trimCount = 0
}

// ResolveLast clears the pending flag on the newest agent reply.
func (m *MessageListModel) ResolveLast() {
	for i := len(m.Messages) - 1; i >= 0; i-- {
		if d := m.Messages[i].Decision; d != nil {
			d.Pending = false
			return
		}
	}
}

// View renders all messages as a single string.
func (m *MessageListModel) View() string {
	if len(m.Messages) == 0 {
		return theme.TextMuted.Render("  No messages yet. Ask for something, e.g. \"email sarah about the report\".")
	}

	contentWidth := ContentWidth(m.width)

	var sb strings.Builder
	if indicator := m.TrimmedIndicator(); indicator != "" {
		sb.WriteString(theme.TextMuted.Render("  "+indicator) + "\n\n")
	}
	for i := range m.Messages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(m.renderMessage(&m.Messages[i], contentWidth))
	}
	return sb.String()
}

func (m *MessageListModel) renderMessage(msg *ChatMessage, width int) string {
	header := m.roleLabel(msg) + " " + theme.Timestamp.Render(RelativeTime(msg.Timestamp))

	var body string
	switch msg.Role {
	case RoleAgent:
		if msg.Rendered == "" {
			msg.Rendered = m.renderMarkdown(msg.Content, width)
		}
		body = strings.TrimSpace(msg.Rendered)
	case RoleError:
		body = theme.TextError.Render(wrapText(msg.Content, width-2))
	default:
		body = wrapText(msg.Content, width-2)
	}

	var sb strings.Builder
	sb.WriteString(header)
	if msg.Decision != nil {
		sb.WriteString("\n" + renderDecision(msg.Decision))
	}
	if body != "" {
		sb.WriteString("\n  " + body)
	}
	return sb.String()
}

// renderDecision renders "agent → intent  0.92 pattern" plus a rating hint
// while the decision awaits feedback.
func renderDecision(d *DecisionSummary) string {
	line := "  " + theme.AgentBadge.Render(d.Agent) + " " +
		theme.TextMuted.Render(theme.SymbolArrowR) + " " +
		theme.Bold.Render(d.Intent) + "  " +
		theme.Confidence(d.Confidence).Render(fmt.Sprintf("%.2f", d.Confidence)) + " " +
		theme.Dim.Render(d.Method)
	if d.Pending {
		line += "  " + theme.TextMuted.Render("rate: /ok  /no  /intent <name>")
	}
	return line
}

func (m *MessageListModel) roleLabel(msg *ChatMessage) string {
	switch msg.Role {
	case RoleUser:
		return theme.UserLabel.Render(theme.SymbolUser)
	case RoleAgent:
		return theme.BotLabel.Render(theme.SymbolBot)
	case RoleSystem:
		return theme.SystemLabel.Render("System")
	case RoleError:
		return theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		return theme.TextMuted.Render(string(msg.Role))
	}
}

func (m *MessageListModel) renderMarkdown(content string, width int) string {
	if m.mdRenderer == nil {
		style := glamour.WithAutoStyle()
		if m.MarkdownStyle != "" {
			style = glamour.WithStandardStyle(m.MarkdownStyle)
		}
		r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
		if err != nil {
			return content
		}
		m.mdRenderer = r
	}
	rendered, err := m.mdRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// RelativeTime returns a human-readable relative time string.
func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

// wrapText wraps s at width with a 2-space indent on continuation lines.
// Indexing is rune based so multibyte text is never split.
func wrapText(s string, width int) string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return s
	}
	var lines []string
	for len(runes) > width {
		idx := -1
		for i := width - 1; i > 0; i-- {
			if runes[i] == ' ' {
				idx = i
				break
			}
		}
		if idx <= 0 {
			idx = width
		}
		lines = append(lines, string(runes[:idx]))
		runes = runes[idx:]
		for len(runes) > 0 && runes[0] == ' ' {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return strings.Join(lines, "\n  ")
}

// ContentWidth calculates the content width respecting MaxContentWidth.
func ContentWidth(termWidth int) int {
	return theme.Clamp(termWidth-4, 40, theme.MaxContentWidth)
}

// Divider renders a horizontal line at the given width.
func Divider(width int) string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorBorder).
		Render(strings.Repeat("─", width))
}
