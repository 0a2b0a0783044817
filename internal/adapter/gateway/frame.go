package gateway

import "encoding/json"

// FrameType identifies the kind of frame sent over the event socket.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// RPC methods accepted on the event socket.
const (
	MethodRoute   = "route"
	MethodOutcome = "outcome"
	MethodHandle  = "handle"
	MethodAgents  = "agents"
	MethodStats   = "stats"

	MethodAddPattern = "add_pattern"
)

// Frame is the envelope exchanged with socket clients. Event frames carry a
// JSON-encoded domain.Event as payload.
type Frame struct {
	Type    FrameType       `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	// Code is the HTTP-equivalent status of a failed request.
	Code int `json:"code,omitempty"`
}
