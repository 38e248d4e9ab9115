package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
)

// DefaultMaxOutputBytes bounds tool output surfaced to the model.
const DefaultMaxOutputBytes = 50 * 1024

const truncationNotice = "\n... [output truncated]"

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// MaxOutputBytes caps each tool result; longer output is truncated with
	// a trailing notice. Zero means DefaultMaxOutputBytes.
	MaxOutputBytes int
	// WorkDir is passed to every invocation.
	WorkDir string
	// Logger receives execution diagnostics.
	Logger logging.Logger
}

// Runner executes tool calls against a registry. Every call produces exactly
// one result message regardless of outcome: success, error, or aborted.
type Runner struct {
	registry *Registry
	opts     RunnerOptions
}

// NewRunner constructs a runner with optional overrides.
func NewRunner(registry *Registry, optFns ...func(o *RunnerOptions)) *Runner {
	opts := RunnerOptions{
		MaxOutputBytes: DefaultMaxOutputBytes,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Runner{registry: registry, opts: opts}
}

// Execute runs a single tool call to completion. Failures never surface as
// Go errors; they become error-status results so the model sees them.
// A canceled context yields an aborted result.
func (r *Runner) Execute(ctx context.Context, call core.ToolCallPart) core.ToolResultMessage {
	start := time.Now()
	result := r.execute(ctx, call)
	r.opts.Logger.Info("tool.execute",
		"tool", call.ToolName,
		"call_id", call.CallID,
		"status", string(result.Status),
		"duration_ms", time.Since(start).Milliseconds())
	return result
}

func (r *Runner) execute(ctx context.Context, call core.ToolCallPart) core.ToolResultMessage {
	if err := ctx.Err(); err != nil {
		return abortedResult(call)
	}

	t, err := r.registry.Lookup(call.ToolName)
	if err != nil {
		return errorResult(call, fmt.Sprintf("no such tool: %s", call.ToolName))
	}

	args := map[string]any{}
	raw := call.ArgumentsJSON
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		argErr := &provider.ToolArgumentError{
			Tool:    call.ToolName,
			CallID:  call.CallID,
			Message: fmt.Sprintf("arguments are not a JSON object: %v", err),
		}
		return errorResult(call, argErr.Error())
	}

	inv := Invocation{
		CallID:  call.CallID,
		Args:    args,
		RawArgs: raw,
		WorkDir: r.opts.WorkDir,
		Logger:  r.opts.Logger,
	}

	out, err := t.Call(ctx, inv)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return abortedResult(call)
		}
		return errorResult(call, err.Error())
	}

	return core.ToolResultMessage{
		CallID:     call.CallID,
		ToolName:   call.ToolName,
		OutputText: r.truncate(out),
		Status:     core.ToolResultSuccess,
	}
}

// ExecuteAll runs every call concurrently and returns results in the order
// the calls were declared.
func (r *Runner) ExecuteAll(ctx context.Context, calls []core.ToolCallPart) []core.ToolResultMessage {
	results := make([]core.ToolResultMessage, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call core.ToolCallPart) {
			defer wg.Done()
			results[i] = r.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (r *Runner) truncate(s string) string {
	if len(s) <= r.opts.MaxOutputBytes {
		return s
	}
	return s[:r.opts.MaxOutputBytes] + truncationNotice
}

func errorResult(call core.ToolCallPart, msg string) core.ToolResultMessage {
	return core.ToolResultMessage{
		CallID:     call.CallID,
		ToolName:   call.ToolName,
		OutputText: msg,
		Status:     core.ToolResultError,
	}
}

func abortedResult(call core.ToolCallPart) core.ToolResultMessage {
	return core.ToolResultMessage{
		CallID:     call.CallID,
		ToolName:   call.ToolName,
		OutputText: "tool execution aborted",
		Status:     core.ToolResultAborted,
	}
}

// AbortedResults synthesizes aborted results for calls that never ran, so
// every tool call is matched by exactly one result.
func AbortedResults(calls []core.ToolCallPart) []core.ToolResultMessage {
	out := make([]core.ToolResultMessage, len(calls))
	for i, call := range calls {
		out[i] = abortedResult(call)
	}
	return out
}

// ErrorResults synthesizes error-status results for calls left incomplete by
// a turn-level failure.
func ErrorResults(calls []core.ToolCallPart) []core.ToolResultMessage {
	out := make([]core.ToolResultMessage, len(calls))
	for i, call := range calls {
		out[i] = errorResult(call, "tool call was not executed")
	}
	return out
}
