package core

import "github.com/google/uuid"

// Event is the only type crossing the engine/display boundary. Events are
// append-only and ordered: a display may assume no event referencing a call
// id arrives before that call's ToolCallEvent, and that the event channel is
// closed after the terminal event of a turn.
type Event interface {
	isEvent()
}

// AssistantMessageDeltaEvent carries an incremental piece of visible
// assistant text.
type AssistantMessageDeltaEvent struct {
	Text string
}

// ThinkingDeltaEvent carries an incremental piece of model reasoning text.
type ThinkingDeltaEvent struct {
	Text string
}

// ToolCallEvent announces a finalized tool invocation.
type ToolCallEvent struct {
	CallID        string
	ToolName      string
	ArgumentsJSON string
}

// ToolResultEvent reports the outcome of a previously announced tool call.
type ToolResultEvent struct {
	CallID     string
	ToolName   string
	OutputText string
	Status     ToolResultStatus
}

// ErrorEvent reports a turn-level failure. The turn still completes in a
// resumable state after an ErrorEvent.
type ErrorEvent struct {
	Code    string
	Message string
}

// InterruptEvent marks an external cancellation. It immediately follows the
// last partial content event of the stream.
type InterruptEvent struct{}

// TaskFinishEvent is the final event of a normally completed turn.
type TaskFinishEvent struct {
	Usage Usage
}

func (AssistantMessageDeltaEvent) isEvent() {}
func (ThinkingDeltaEvent) isEvent()         {}
func (ToolCallEvent) isEvent()              {}
func (ToolResultEvent) isEvent()            {}
func (ErrorEvent) isEvent()                 {}
func (InterruptEvent) isEvent()             {}
func (TaskFinishEvent) isEvent()            {}

// Usage aggregates token accounting reported by a provider over one turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add accumulates another usage report.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// NewID generates a unique identifier for sessions and synthesized call ids.
func NewID() string { return uuid.NewString() }
