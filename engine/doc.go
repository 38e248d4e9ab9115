// Package engine drives one conversation turn at a time: it sends the
// session history to a provider adapter, streams the response as display
// events, dispatches finalized tool calls concurrently, appends results in
// declaration order, and loops until the model stops requesting tools.
//
// A turn moves through a small state machine:
//
//	Idle -> Requesting -> Streaming -> (ToolDispatch -> Requesting)* -> Completed
//
// with Interrupting and Errored as the exceptional exits. Whatever the exit,
// the session history is left valid: every recorded tool call is matched by
// exactly one tool result, synthesized as aborted when execution never ran.
//
// The event channel returned by Run is the only output surface. It is
// buffered, blocks the turn when the consumer falls behind, and is closed as
// the terminal signal.
package engine
