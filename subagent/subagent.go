// Package subagent lets a turn delegate a scoped task to a child agent with
// its own session, system prompt, and filtered tool set. The child runs to
// completion internally; only its final text crosses back to the parent as a
// tool result.
package subagent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/engine"
	"github.com/turnkit/turnkit/internal/util"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/tool"
)

// Definition describes one spawnable sub-agent type.
type Definition struct {
	// Type is the identifier models use to spawn this agent.
	Type string
	// Description tells the invoking model what the agent is for.
	Description string
	// SystemPrompt seeds the child session.
	SystemPrompt string
	// Model overrides the manager default when non-empty.
	Model string
	// ExcludedTools are removed from the child's tool set, in addition to
	// the spawn tool itself.
	ExcludedTools []string
}

// VisibilityFunc decides whether a sub-agent type may be spawned by the
// given invoking model. Used to keep specialized agents away from models
// that cannot drive them.
type VisibilityFunc func(subAgentType, invokingModel string) bool

// Options configures a Manager.
type Options struct {
	// DefaultModel is used for definitions that do not name one.
	DefaultModel string
	// MaxModelCalls bounds each child turn.
	MaxModelCalls int
	// Visibility filters spawnable types per invoking model. Nil allows all.
	Visibility VisibilityFunc
	// Logger receives manager diagnostics.
	Logger logging.Logger
}

// Manager owns sub-agent definitions and runs child turns.
type Manager struct {
	adapter  provider.Adapter
	registry *tool.Registry
	opts     Options

	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewManager constructs a manager over the parent's adapter and tool
// registry.
func NewManager(adapter provider.Adapter, registry *tool.Registry, optFns ...func(o *Options)) *Manager {
	opts := Options{
		MaxModelCalls: 25,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		adapter:  adapter,
		registry: registry,
		opts:     opts,
		defs:     make(map[string]Definition),
	}
}

// Register adds a sub-agent definition, replacing any previous one with the
// same type.
func (m *Manager) Register(def Definition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[def.Type]; !exists {
		m.order = append(m.order, def.Type)
	}
	m.defs[def.Type] = def
}

// Visible returns the definitions spawnable by the given invoking model, in
// registration order.
func (m *Manager) Visible(invokingModel string) []Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Definition, 0, len(m.order))
	for _, typ := range m.order {
		if m.visible(typ, invokingModel) {
			out = append(out, m.defs[typ])
		}
	}
	return out
}

func (m *Manager) visible(subAgentType, invokingModel string) bool {
	if m.opts.Visibility == nil {
		return true
	}
	return m.opts.Visibility(subAgentType, invokingModel)
}

// Run executes one sub-agent task to completion and returns its final text.
// The child gets a fresh session with the parent's working directory, the
// definition's system prompt, and the parent registry minus the spawn tool
// and the definition's exclusions. Cancellation of ctx propagates into the
// child turn.
func (m *Manager) Run(ctx context.Context, subAgentType, invokingModel, prompt, workDir string) (string, error) {
	m.mu.RLock()
	def, ok := m.defs[subAgentType]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown sub-agent type %q", subAgentType)
	}
	if !m.visible(subAgentType, invokingModel) {
		return "", fmt.Errorf("sub-agent type %q is not available to model %q", subAgentType, invokingModel)
	}

	model := def.Model
	if model == "" {
		model = m.opts.DefaultModel
	}

	excluded := append([]string{SpawnToolName}, def.ExcludedTools...)
	childRegistry := m.registry.Without(excluded...)

	systemPrompt, err := util.RenderTemplate(def.SystemPrompt, map[string]any{
		"WorkDir":       workDir,
		"AgentType":     def.Type,
		"InvokingModel": invokingModel,
	})
	if err != nil {
		return "", fmt.Errorf("render system prompt for %q: %w", subAgentType, err)
	}

	child := core.NewSession(core.NewID(), workDir, systemPrompt)
	eng := engine.New(m.adapter, childRegistry, child, func(o *engine.Options) {
		o.Model = model
		o.MaxModelCalls = m.opts.MaxModelCalls
		o.Logger = m.opts.Logger
	})

	m.opts.Logger.Info("subagent.run", "type", subAgentType, "model", model, "session", child.ID)

	events, err := eng.Run(ctx, core.NewUserTextMessage(prompt))
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for ev := range events {
		switch e := ev.(type) {
		case core.AssistantMessageDeltaEvent:
			text.WriteString(e.Text)
		case core.ToolCallEvent:
			// A new model call follows; only the last response counts.
			text.Reset()
		case core.ErrorEvent:
			return "", fmt.Errorf("sub-agent %s failed: %s (%s)", subAgentType, e.Message, e.Code)
		case core.InterruptEvent:
			return "", fmt.Errorf("sub-agent %s interrupted", subAgentType)
		}
	}
	return text.String(), nil
}
