package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/turnkit/turnkit/internal/util"
	"github.com/turnkit/turnkit/provider"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a
// tool. It validates supplied arguments against a JSON-Schema-like
// specification before execution and normalizes failures into the provider
// error taxonomy: validation failures become ToolArgumentError, execution
// failures become ToolExecutionError.
//
// A FunctionTool has no internal mutable state after construction and is
// safe for concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, inv Invocation) (string, error)
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	echo := NewFunctionTool(
//	  "echo",
//	  "Repeat the given text",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "text": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"text"},
//	  },
//	  func(ctx context.Context, inv Invocation) (string, error) {
//	    return inv.StringArg("text", ""), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, inv Invocation) (string, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using
// reflection. Convenient for simple argument containers.
//
// Example:
//
//	type echoArgs struct {
//	  Text string `json:"text" description:"Text to repeat"`
//	}
//
//	echo := NewFunctionToolFromStruct("echo", "Repeat the given text", echoArgs{}, fn)
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, inv Invocation) (string, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// Name returns the unique tool name used in function call declarations.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates the arguments against the declared schema then invokes the
// underlying function.
func (t *FunctionTool) Call(ctx context.Context, inv Invocation) (string, error) {
	if err := util.ValidateParameters(inv.Args, t.parameters); err != nil {
		return "", &provider.ToolArgumentError{
			Tool:    t.name,
			CallID:  inv.CallID,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	out, err := t.fn(ctx, inv)
	if err != nil {
		var argErr *provider.ToolArgumentError
		var execErr *provider.ToolExecutionError
		if errors.As(err, &argErr) || errors.As(err, &execErr) {
			return "", err
		}
		return "", &provider.ToolExecutionError{Tool: t.name, CallID: inv.CallID, Cause: err}
	}
	return out, nil
}
