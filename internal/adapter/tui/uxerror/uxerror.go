// Package uxerror turns routing and store errors into short messages with
// recovery hints for the chat console.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"deskmate/internal/adapter/tui/theme"
	"deskmate/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display in the TUI message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

var patterns = []errorPattern{
	// Domain sentinels first so errors.Is sees through wrapping.
	{
		match:   sentinel(domain.ErrEmptyMessage),
		produce: constantError("Empty Message", "There is nothing to route.", []string{"Type a request, e.g. \"send an email to sarah about the report\""}),
	},
	{
		match:   sentinel(domain.ErrInteractionNotFound),
		produce: constantError("Nothing To Rate", "The interaction has already been rated or has expired.", []string{"Send a new message, then rate it with /ok, /no or /intent"}),
	},
	{
		match:   sentinel(domain.ErrModelUnavailable),
		produce: constantError("Intent Model Unavailable", "The local model did not answer; rule-based routing was used.", []string{"Check that Ollama is running", "Set model.enabled: false to skip the model"}),
	},
	{
		match:   sentinel(domain.ErrStoreClosed),
		produce: constantError("Pattern Store Closed", "Learned patterns can no longer be read or written.", []string{"Restart deskmate"}),
	},
	{
		match:   sentinel(domain.ErrStoreWrite),
		produce: constantError("Could Not Save Patterns", "Writing the pattern store failed.", []string{"Check free disk space", "Check permissions on the data directory"}),
	},
	{
		match:   sentinel(domain.ErrStoreCorrupt),
		produce: constantError("Pattern Store Corrupt", "The pattern file could not be parsed.", []string{"Restore a snapshot from the backups directory", "Run 'deskmate doctor'"}),
	},
	{
		match:   sentinel(domain.ErrNoFallbackAgent),
		produce: constantError("No Fallback Agent", "No agent is registered to take unmatched messages.", []string{"Enable the general agent in config"}),
	},
	{
		match:   sentinel(domain.ErrRateLimit),
		produce: constantError("Rate Limited", "Too many requests were sent to the model.", []string{"Wait a moment before retrying", "Raise model.rate_limit in config"}),
	},
	{
		match:   sentinel(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed", "The model provider rejected the API key.", []string{"Check DESKMATE_MODEL_API_KEY", "Verify the key has not expired"}),
	},

	// External errors only surface as text.
	{
		match:   containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed", "Could not reach the remote service.", []string{"Check that the service is running", "Verify model.base_url in config"}),
	},
	{
		match:   containsAny("deadline exceeded", "timeout"),
		produce: constantError("Request Timed Out", "The request took too long to complete.", []string{"Try again", "Increase classifier.model_timeout in config"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	// Fallback for unrecognized errors.
	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with logger.level: debug for more details"},
		Raw:     err.Error(),
	}
}

func sentinel(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
