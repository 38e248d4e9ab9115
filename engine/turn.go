package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/tool"
)

// callOutcome is the result of one model request, including partial content
// assembled before an interruption or failure.
type callOutcome struct {
	message     core.AssistantMessage
	responseID  string
	interrupted bool
	err         error
}

func (e *Engine) runTurn(ctx, tctx context.Context, userMsg core.UserMessage, events chan<- core.Event) {
	defer close(events)
	defer e.running.Store(false)
	defer func() {
		e.mu.Lock()
		e.cancelTurn = nil
		e.mu.Unlock()
	}()

	e.sess.Append(userMsg)
	e.storeAppend(ctx, userMsg)

	runner := tool.NewRunner(e.registry, func(o *tool.RunnerOptions) {
		o.WorkDir = e.sess.WorkDir
		o.Logger = e.opts.Logger
		o.MaxOutputBytes = e.opts.MaxToolOutputBytes
	})

	var total core.Usage

	for call := 0; ; call++ {
		if call >= e.opts.MaxModelCalls {
			e.failTurn(ctx, events, "budget_exhausted",
				fmt.Sprintf("model call budget of %d exhausted", e.opts.MaxModelCalls))
			return
		}

		outcome := e.modelCall(ctx, tctx, events, &total)

		msg := outcome.message
		calls := msg.ToolCalls()
		if outcome.responseID != "" {
			msg.ResponseID = outcome.responseID
			e.sess.LastResponseID = outcome.responseID
		}
		if len(msg.Parts) > 0 {
			e.sess.Append(msg)
			e.storeAppend(ctx, msg)
		}

		if outcome.err != nil && !outcome.interrupted {
			// Keep history valid: calls recorded above get error markers.
			// They were never dispatched, so no result events are emitted.
			e.recordResults(ctx, tool.ErrorResults(calls))
			e.failTurn(ctx, events, provider.ErrorCode(outcome.err), outcome.err.Error())
			return
		}

		if outcome.interrupted {
			// The aborted markers go to history only; InterruptEvent must
			// directly follow the last content event.
			e.recordResults(ctx, tool.AbortedResults(calls))
			_ = e.emit(ctx, events, core.InterruptEvent{})
			e.storePersist(ctx)
			e.setState(StateCompleted)
			return
		}

		if len(calls) == 0 {
			_ = e.emit(ctx, events, core.TaskFinishEvent{Usage: total})
			e.storePersist(ctx)
			e.setState(StateCompleted)
			return
		}

		e.setState(StateToolDispatch)
		results := runner.ExecuteAll(tctx, calls)
		e.emitResults(ctx, events, results)

		if e.interrupted.Load() {
			_ = e.emit(ctx, events, core.InterruptEvent{})
			e.storePersist(ctx)
			e.setState(StateCompleted)
			return
		}
		if err := tctx.Err(); err != nil {
			e.failTurn(ctx, events, provider.ErrorCode(err), err.Error())
			return
		}
	}
}

// modelCall opens a request and consumes its stream, retrying with
// exponential backoff as long as no delta has arrived and the failure is
// retryable. Once the first delta lands the request is committed.
func (e *Engine) modelCall(ctx, tctx context.Context, events chan<- core.Event, total *core.Usage) callOutcome {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.RetryInitialInterval
	bo.MaxElapsedTime = e.opts.RetryMaxElapsed
	bo.Reset()

	for {
		outcome, committed := e.attempt(ctx, tctx, events, total)
		if outcome.err == nil || outcome.interrupted || committed || !provider.IsRetryable(outcome.err) {
			return outcome
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return outcome
		}
		e.opts.Logger.Warn("engine.request.retry",
			"wait", wait.String(), "error", outcome.err.Error())

		select {
		case <-time.After(wait):
		case <-tctx.Done():
			outcome.interrupted = e.interrupted.Load()
			outcome.err = tctx.Err()
			return outcome
		}
	}
}

// attempt performs a single request/stream cycle. The boolean reports whether
// any delta was received, which commits the request and disables retry.
func (e *Engine) attempt(ctx, tctx context.Context, events chan<- core.Event, total *core.Usage) (callOutcome, bool) {
	e.setState(StateRequesting)

	req := provider.Request{
		Model:          e.opts.Model,
		System:         e.sess.SystemPrompt,
		History:        e.sess.History(),
		Tools:          e.registry.Schemas(),
		LastResponseID: e.sess.LastResponseID,
		MaxTokens:      e.opts.MaxTokens,
		Temperature:    e.opts.Temperature,
	}

	streamer, err := e.adapter.Stream(tctx, req)
	if err != nil {
		if e.interrupted.Load() {
			return callOutcome{interrupted: true}, false
		}
		return callOutcome{err: err}, false
	}
	defer func() { _ = streamer.Close() }()

	e.setState(StateStreaming)

	asm := newAssembler()
	committed := false

	for {
		delta, rerr := streamer.Recv()
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			if e.interrupted.Load() || errors.Is(rerr, context.Canceled) {
				return callOutcome{
					message:     asm.finalize(),
					responseID:  responseIDFrom(streamer),
					interrupted: true,
				}, committed
			}
			return callOutcome{
				message:    asm.finalize(),
				responseID: responseIDFrom(streamer),
				err:        rerr,
			}, committed
		}
		committed = true
		if err := asm.apply(delta, func(ev core.Event) error { return e.emit(ctx, events, ev) }, total); err != nil {
			return callOutcome{message: asm.finalize(), err: err}, committed
		}
	}

	return callOutcome{message: asm.finalize(), responseID: responseIDFrom(streamer)}, committed
}

// emitResults records executed tool results in declaration order, emitting a
// ToolResultEvent for each.
func (e *Engine) emitResults(ctx context.Context, events chan<- core.Event, results []core.ToolResultMessage) {
	if len(results) == 0 {
		return
	}
	for _, res := range results {
		_ = e.emit(ctx, events, core.ToolResultEvent{
			CallID:     res.CallID,
			ToolName:   res.ToolName,
			OutputText: res.OutputText,
			Status:     res.Status,
		})
	}
	e.recordResults(ctx, results)
}

// recordResults appends synthesized results to history without emitting
// events. Used for calls that were never handed to the runner.
func (e *Engine) recordResults(ctx context.Context, results []core.ToolResultMessage) {
	if len(results) == 0 {
		return
	}
	items := make([]core.ConversationItem, 0, len(results))
	for _, res := range results {
		items = append(items, res)
	}
	e.sess.Append(items...)
	e.storeAppend(ctx, items...)
}

// failTurn surfaces a turn-level failure. The state machine passes through
// Errored and comes to rest in Completed so the session stays resumable.
func (e *Engine) failTurn(ctx context.Context, events chan<- core.Event, code, message string) {
	e.setState(StateErrored)
	e.opts.Logger.Error("engine.turn.failed", "code", code, "error", message)
	_ = e.emit(ctx, events, core.ErrorEvent{Code: code, Message: message})
	e.storePersist(ctx)
	e.setState(StateCompleted)
}

func responseIDFrom(s provider.Streamer) string {
	meta := s.Metadata()
	if meta == nil {
		return ""
	}
	if id, ok := meta["response_id"].(string); ok {
		return id
	}
	return ""
}
