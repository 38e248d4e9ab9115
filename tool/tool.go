// Package tool implements the function calling subsystem: a registry of
// callable capabilities exposed to models, schema validated arguments,
// concurrent execution with declaration-ordered results, and consistent
// error handling.
package tool

import (
	"context"

	"github.com/turnkit/turnkit/internal/util"
	"github.com/turnkit/turnkit/logging"
)

// Tool defines a capability a model can invoke through function calling.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe; the runner executes tools concurrently
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description of what this tool does.
	// It is provided to the model to help it decide when to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool. The returned string is the output surfaced to
	// the model; an error becomes an error-status tool result.
	Call(ctx context.Context, inv Invocation) (string, error)
}

// Invocation carries everything a tool needs for a single call.
type Invocation struct {
	// CallID correlates the execution with the model's tool call.
	CallID string
	// Args holds the parsed, schema-validated arguments.
	Args map[string]any
	// RawArgs is the argument JSON exactly as the model produced it.
	RawArgs string
	// WorkDir is the session working directory.
	WorkDir string
	// Logger receives per-call diagnostics. Never nil.
	Logger logging.Logger
}

// StringArg returns the named argument as a string, or def when absent or of
// another type.
func (inv Invocation) StringArg(name, def string) string {
	if v, ok := inv.Args[name].(string); ok {
		return v
	}
	return def
}

// IntArg returns the named argument as an int. JSON numbers decode as
// float64; both forms are accepted.
func (inv Invocation) IntArg(name string, def int) int {
	switch v := inv.Args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// BoolArg returns the named argument as a bool, or def when absent.
func (inv Invocation) BoolArg(name string, def bool) bool {
	if v, ok := inv.Args[name].(bool); ok {
		return v
	}
	return def
}

// ValidationError reports a schema violation in supplied arguments.
type ValidationError = util.ValidationError
