// Package turnkit provides a high-level façade over the turn engine and its
// services (provider adapters, tool registry, sub-agents, session storage).
// Most applications interact with this package by:
//  1. Creating a Client via New() with a provider adapter
//  2. Registering tools and, optionally, sub-agent definitions
//  3. Starting sessions and running turns (Run for streaming, RunSync to
//     collect all events)
//
// The façade delegates execution to engine.Engine while keeping setup
// ergonomics concise. Defaults are safe for local development and testing;
// production deployments typically supply a durable session store and a
// structured logger.
package turnkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/engine"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/session"
	"github.com/turnkit/turnkit/subagent"
	"github.com/turnkit/turnkit/tool"
)

// Options configures a Client.
type Options struct {
	// Model is the provider model identifier used for turns.
	Model string
	// SystemPrompt seeds new sessions.
	SystemPrompt string
	// MaxModelCalls bounds model requests per turn.
	MaxModelCalls int
	// Store persists sessions. Defaults to in-memory.
	Store session.Store
	// Logger receives diagnostics. Defaults to no-op.
	Logger logging.Logger
}

// Client aggregates the adapter, tool registry, sub-agent manager, and
// session store behind a small API.
type Client struct {
	adapter  provider.Adapter
	registry *tool.Registry
	manager  *subagent.Manager
	opts     Options

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// New creates a Client for the given provider adapter.
func New(adapter provider.Adapter, optFns ...func(o *Options)) *Client {
	opts := Options{
		MaxModelCalls: 25,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = session.NewInMemoryStore()
	}

	registry := tool.NewRegistry()
	manager := subagent.NewManager(adapter, registry, func(o *subagent.Options) {
		o.DefaultModel = opts.Model
		o.MaxModelCalls = opts.MaxModelCalls
		o.Logger = opts.Logger
	})

	return &Client{
		adapter:  adapter,
		registry: registry,
		manager:  manager,
		opts:     opts,
		engines:  make(map[string]*engine.Engine),
	}
}

// RegisterTool adds a tool to the shared registry.
func (c *Client) RegisterTool(t tool.Tool) { c.registry.Register(t) }

// RegisterSubAgent adds a sub-agent definition and ensures the spawn tool is
// registered.
func (c *Client) RegisterSubAgent(def subagent.Definition) {
	c.manager.Register(def)
	c.registry.Register(subagent.NewSpawnTool(c.manager, c.opts.Model))
}

// StartSession creates and stores a new session rooted at workDir.
func (c *Client) StartSession(ctx context.Context, workDir string) (*core.Session, error) {
	sess := core.NewSession(core.NewID(), workDir, c.opts.SystemPrompt)
	if err := c.opts.Store.Persist(ctx, sess); err != nil {
		return nil, err
	}

	eng := engine.New(c.adapter, c.registry, sess, func(o *engine.Options) {
		o.Model = c.opts.Model
		o.MaxModelCalls = c.opts.MaxModelCalls
		o.Store = c.opts.Store
		o.Logger = c.opts.Logger
	})

	c.mu.Lock()
	c.engines[sess.ID] = eng
	c.mu.Unlock()
	return sess, nil
}

// Run starts a turn on the given session and returns the display event
// channel. The channel closes after the terminal event.
func (c *Client) Run(ctx context.Context, sessionID, userText string) (<-chan core.Event, error) {
	eng, err := c.engine(sessionID)
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx, core.NewUserTextMessage(userText))
}

// RunSync runs a turn to completion and returns all events in order.
func (c *Client) RunSync(ctx context.Context, sessionID, userText string) ([]core.Event, error) {
	events, err := c.Run(ctx, sessionID, userText)
	if err != nil {
		return nil, err
	}
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, nil
}

// Interrupt cancels the in-flight turn of the given session, if any.
func (c *Client) Interrupt(sessionID string) {
	if eng, err := c.engine(sessionID); err == nil {
		eng.Interrupt()
	}
}

func (c *Client) engine(sessionID string) (*engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	eng, ok := c.engines[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return eng, nil
}
