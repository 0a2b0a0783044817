package chat

import (
	"deskmate/internal/domain"
	"deskmate/internal/usecase/learning"
	"deskmate/internal/usecase/multiagent"
)

// HandledMsg carries the result of routing one user message.
type HandledMsg struct {
	Result *multiagent.HandleResult
	Err    error
}

// OutcomeMsg carries the result of rating the last decision.
type OutcomeMsg struct {
	Outcome domain.Outcome
	Result  *learning.Result
	Err     error
}

// StatsMsg carries pattern store statistics for /stats.
type StatsMsg struct {
	Stats *domain.PatternStats
	Err   error
}
