package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/session"
	"github.com/turnkit/turnkit/tool"
)

// State identifies where a turn currently is in its lifecycle.
type State int32

const (
	// StateIdle means no turn is in flight.
	StateIdle State = iota
	// StateRequesting means a model request is being opened (including retries).
	StateRequesting
	// StateStreaming means response deltas are being consumed.
	StateStreaming
	// StateToolDispatch means finalized tool calls are executing.
	StateToolDispatch
	// StateInterrupting means an external cancellation is being honored.
	StateInterrupting
	// StateCompleted means the last turn finished normally or was interrupted
	// into a valid resting state.
	StateCompleted
	// StateErrored is passed through when a turn-level failure is being
	// surfaced; the machine then comes to rest in StateCompleted.
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateToolDispatch:
		return "tool_dispatch"
	case StateInterrupting:
		return "interrupting"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Options configures an Engine.
type Options struct {
	// Model is the provider model identifier used for every request.
	Model string
	// MaxTokens caps generation length per request; zero uses the adapter
	// default.
	MaxTokens int64
	// Temperature overrides sampling temperature when non-nil.
	Temperature *float64
	// MaxModelCalls bounds the number of model requests in one turn. A turn
	// that would exceed it ends with an ErrorEvent.
	MaxModelCalls int
	// EventBufferSize sets the display channel buffer. A full buffer blocks
	// the turn until the consumer catches up.
	EventBufferSize int
	// RetryInitialInterval seeds the exponential backoff used when a request
	// fails before its first delta.
	RetryInitialInterval time.Duration
	// RetryMaxElapsed bounds the total time spent retrying one request.
	RetryMaxElapsed time.Duration
	// MaxToolOutputBytes caps each tool result; zero uses the runner default.
	MaxToolOutputBytes int
	// Store receives history appends and the end-of-turn snapshot. Optional.
	Store session.Store
	// Logger receives engine diagnostics.
	Logger logging.Logger
}

// Engine executes turns for a single session. Exactly one turn runs at a
// time; Run fails while a turn is in flight.
type Engine struct {
	adapter  provider.Adapter
	registry *tool.Registry
	sess     *core.Session
	opts     Options

	state   atomic.Int32
	running atomic.Bool

	mu          sync.Mutex
	cancelTurn  context.CancelFunc
	interrupted atomic.Bool
}

// New constructs an engine bound to a session.
func New(adapter provider.Adapter, registry *tool.Registry, sess *core.Session, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxModelCalls:        25,
		EventBufferSize:      64,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxElapsed:      30 * time.Second,
		Logger:               logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Engine{
		adapter:  adapter,
		registry: registry,
		sess:     sess,
		opts:     opts,
	}
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Session returns the session this engine drives.
func (e *Engine) Session() *core.Session {
	return e.sess
}

// Run starts a turn for the given user message and returns the display
// event channel. The channel is closed after the terminal event. Only one
// turn may be in flight per engine.
func (e *Engine) Run(ctx context.Context, userMsg core.UserMessage) (<-chan core.Event, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("turn already in progress for session %s", e.sess.ID)
	}

	tctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelTurn = cancel
	e.mu.Unlock()
	e.interrupted.Store(false)

	events := make(chan core.Event, e.opts.EventBufferSize)
	go e.runTurn(ctx, tctx, userMsg, events)
	return events, nil
}

// Interrupt requests cancellation of the in-flight turn. Safe to call at any
// time; a no-op when no turn is running.
func (e *Engine) Interrupt() {
	if !e.running.Load() {
		return
	}
	e.interrupted.Store(true)
	e.setState(StateInterrupting)
	e.mu.Lock()
	if e.cancelTurn != nil {
		e.cancelTurn()
	}
	e.mu.Unlock()
}

func (e *Engine) setState(s State) {
	prev := State(e.state.Swap(int32(s)))
	if prev != s {
		e.opts.Logger.Debug("engine.state", "from", prev.String(), "to", s.String())
	}
}

// emit delivers an event to the display channel, blocking for back-pressure.
// The parent context (not the interruptible turn context) gates delivery so
// interrupt-related events still reach the consumer.
func (e *Engine) emit(ctx context.Context, events chan<- core.Event, ev core.Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) storeAppend(ctx context.Context, items ...core.ConversationItem) {
	if e.opts.Store == nil || len(items) == 0 {
		return
	}
	if err := e.opts.Store.Append(ctx, e.sess.ID, items...); err != nil {
		e.opts.Logger.Warn("engine.store.append_failed", "session", e.sess.ID, "error", err.Error())
	}
}

func (e *Engine) storePersist(ctx context.Context) {
	if e.opts.Store == nil {
		return
	}
	if err := e.opts.Store.Persist(ctx, e.sess); err != nil {
		e.opts.Logger.Warn("engine.store.persist_failed", "session", e.sess.ID, "error", err.Error())
	}
}
