// Package provider defines the contract shared by all protocol adapters: the
// outbound request shape, the canonical streaming delta, the error taxonomy
// and the tool-call accumulator that reassembles fragmented streamed tool
// invocations. One adapter implementation exists per provider family; the
// set is fixed and selected by construction, never loaded at runtime.
package provider

import (
	"context"

	"github.com/turnkit/turnkit/core"
)

// Adapter translates between the canonical conversation model and one
// provider's wire protocol. Stream builds the wire request from the
// canonical history, opens the network stream and returns a Streamer that
// yields canonical deltas. The stream is not restartable; cancelling ctx
// releases the connection and no delta is delivered afterwards (one already
// in flight may complete).
type Adapter interface {
	Name() string
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Streamer delivers decoded deltas for one stream. Recv returns io.EOF after
// the provider signals completion. Close releases the underlying connection
// and is safe to call more than once. Metadata exposes provider-specific
// stream facts (response id, usage) once known.
type Streamer interface {
	Recv() (Delta, error)
	Close() error
	Metadata() map[string]any
}

// Request captures the normalized parameters for one model invocation.
type Request struct {
	// Model is the provider-specific model identifier.
	Model string

	// System is the system prompt, sent the way the provider expects
	// (system blocks, instructions field, first message).
	System string

	// History is the ordered canonical conversation.
	History []core.ConversationItem

	// Tools lists the tool schemas exposed to the model, in registry order.
	Tools []ToolSchema

	// LastResponseID is the provider-side continuation handle from the
	// previous response. Only adapters with server-side conversation state
	// use it.
	LastResponseID string

	// MaxTokens caps completion tokens. Zero means provider default.
	MaxTokens int64

	// Temperature is the sampling temperature. Nil means provider default.
	Temperature *float64
}

// ToolSchema describes one tool exposed to the model.
type ToolSchema struct {
	Name        string
	Description string
	// Parameters is a JSON-Schema-like object map ("type", "properties",
	// "required").
	Parameters map[string]any
}

// DeltaType discriminates Delta payloads.
type DeltaType string

const (
	// DeltaText carries visible assistant text.
	DeltaText DeltaType = "text"
	// DeltaThinking carries reasoning text.
	DeltaThinking DeltaType = "thinking"
	// DeltaSignature carries the opaque continuation signature confirming
	// the reasoning block that preceded it.
	DeltaSignature DeltaType = "signature"
	// DeltaToolCall carries one finalized tool invocation.
	DeltaToolCall DeltaType = "tool_call"
	// DeltaUsage reports incremental token usage.
	DeltaUsage DeltaType = "usage"
	// DeltaStop reports the provider stop reason.
	DeltaStop DeltaType = "stop"
)

// Delta is the canonical streaming unit produced by adapter decoding. The
// Type value indicates which payload fields are populated.
type Delta struct {
	Type       DeltaType
	Text       string
	Signature  string
	ToolCall   *ToolCallRequest
	Usage      *core.Usage
	StopReason string
}

// ToolCallRequest is one complete, finalized tool invocation.
type ToolCallRequest struct {
	// ResponseID identifies the provider response that produced the call,
	// when the provider exposes one.
	ResponseID string
	// CallID joins the call to its eventual result. Unique within a turn.
	CallID string
	// ToolName is the canonical tool name after normalization.
	ToolName string
	// ArgumentsJSON is the raw argument text. It may be invalid JSON when
	// the stream was truncated; the tool layer converts that into an error
	// result.
	ArgumentsJSON string
}
