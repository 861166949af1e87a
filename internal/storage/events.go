package storage

import "time"

// EventWriter is the interface for writing tool invocation audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ToolInvocationEvent)
	Close()
}

// ToolInvocationEvent is one audited step of the function-calling protocol:
// a proposed tool call that was executed (or failed), with its approval
// state and outcome.
type ToolInvocationEvent struct {
	RequestID      string
	PrincipalID    string
	Timestamp      time.Time
	ToolCallID     string
	ToolName       string
	ArgumentsJSON  string
	Classification string // "read" or "write"
	Approved       bool   // true when the call went through the approval gate
	Outcome        string // "ok" or "error"
	ErrorDetail    string
	PageID         string
	ProjectID      string
	LatencyMs      float32
	Source         string
}
