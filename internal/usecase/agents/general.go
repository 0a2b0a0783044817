package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deskmate/internal/domain"
)

// GeneralResponder answers the general agent's conversational intents.
type GeneralResponder struct {
	agents func() []domain.AgentInfo
	now    func() time.Time
}

// NewGeneralResponder creates a responder. agents lists the registered
// agents for the help reply and may be nil.
func NewGeneralResponder(agents func() []domain.AgentInfo) *GeneralResponder {
	return &GeneralResponder{agents: agents, now: time.Now}
}

// Execute implements domain.ActionExecutor. Only general_conversation
// reports failure, so messages nobody understood are never learned.
func (g *GeneralResponder) Execute(_ context.Context, d domain.RoutingDecision) (*domain.ActionResult, error) {
	now := g.now()
	switch d.Intent {
	case "greeting":
		return ok("Hello! How can I help you today?"), nil
	case "goodbye":
		return ok("Goodbye! Have a great day."), nil
	case "thanks":
		return ok("You're welcome!"), nil
	case "time":
		return ok("It is " + now.Format("15:04") + "."), nil
	case "date":
		return ok("Today is " + now.Format("Monday, January 2, 2006") + "."), nil
	case "help":
		return ok(g.help()), nil
	default:
		return &domain.ActionResult{Success: false, Response: FallbackResponse}, nil
	}
}

func (g *GeneralResponder) help() string {
	var b strings.Builder
	b.WriteString("I can help with:")
	if g.agents != nil {
		for _, a := range g.agents() {
			if a.Fallback {
				continue
			}
			fmt.Fprintf(&b, "\n- %s: %s", a.Name, a.Description)
		}
	}
	b.WriteString("\nAddress an agent directly with @name, for example \"@mail unread\".")
	return b.String()
}

func ok(response string) *domain.ActionResult {
	return &domain.ActionResult{Success: true, Response: response}
}
