package subagent

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/tool"
)

// fakeAdapter answers every request with a fixed delta script and records
// the requests it served.
type fakeAdapter struct {
	mu       sync.Mutex
	deltas   []provider.Delta
	requests []provider.Request
}

func (a *fakeAdapter) Name() string { return "fake" }

func (a *fakeAdapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()
	return &fakeStreamer{ctx: ctx, deltas: a.deltas}, nil
}

func (a *fakeAdapter) lastRequest() provider.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests[len(a.requests)-1]
}

type fakeStreamer struct {
	ctx    context.Context
	deltas []provider.Delta
	i      int
}

func (s *fakeStreamer) Recv() (provider.Delta, error) {
	if err := s.ctx.Err(); err != nil {
		return provider.Delta{}, err
	}
	if s.i < len(s.deltas) {
		d := s.deltas[s.i]
		s.i++
		return d, nil
	}
	return provider.Delta{}, io.EOF
}

func (s *fakeStreamer) Close() error             { return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

func answering(text string) *fakeAdapter {
	return &fakeAdapter{deltas: []provider.Delta{
		{Type: provider.DeltaText, Text: text},
		{Type: provider.DeltaStop, StopReason: "end_turn"},
	}}
}

func parentRegistry(manager *Manager) *tool.Registry {
	r := tool.NewRegistry(
		tool.NewBashTool(),
		tool.NewReadFileTool(),
	)
	if manager != nil {
		r.Register(NewSpawnTool(manager, "parent-model"))
	}
	return r
}

func TestManagerRunReturnsFinalText(t *testing.T) {
	adapter := answering("investigation complete")
	m := NewManager(adapter, parentRegistry(nil), func(o *Options) {
		o.DefaultModel = "small-model"
	})
	m.Register(Definition{
		Type:         "researcher",
		Description:  "Digs through files",
		SystemPrompt: "You research.",
	})

	out, err := m.Run(context.Background(), "researcher", "parent-model", "find the bug", "/work")
	require.NoError(t, err)
	assert.Equal(t, "investigation complete", out)

	req := adapter.lastRequest()
	assert.Equal(t, "small-model", req.Model)
	assert.Equal(t, "You research.", req.System)
}

func TestManagerRunUnknownType(t *testing.T) {
	m := NewManager(answering("x"), parentRegistry(nil))
	_, err := m.Run(context.Background(), "ghost", "parent-model", "do", "")
	require.Error(t, err)
}

func TestManagerVisibilityFilter(t *testing.T) {
	m := NewManager(answering("x"), parentRegistry(nil), func(o *Options) {
		o.Visibility = func(subAgentType, invokingModel string) bool {
			return !(subAgentType == "privileged" && invokingModel == "small-model")
		}
	})
	m.Register(Definition{Type: "researcher", Description: "r"})
	m.Register(Definition{Type: "privileged", Description: "p"})

	visible := m.Visible("small-model")
	require.Len(t, visible, 1)
	assert.Equal(t, "researcher", visible[0].Type)

	assert.Len(t, m.Visible("big-model"), 2)

	_, err := m.Run(context.Background(), "privileged", "small-model", "do", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not available")

	_, err = m.Run(context.Background(), "privileged", "big-model", "do", "")
	require.NoError(t, err)
}

func TestManagerChildToolSetExcludesSpawnAndListed(t *testing.T) {
	adapter := answering("done")
	m := NewManager(adapter, nil)
	registry := parentRegistry(m)
	m.registry = registry

	m.Register(Definition{
		Type:          "restricted",
		Description:   "no shell access",
		ExcludedTools: []string{"bash"},
	})

	_, err := m.Run(context.Background(), "restricted", "parent-model", "task", "")
	require.NoError(t, err)

	var names []string
	for _, schema := range adapter.lastRequest().Tools {
		names = append(names, schema.Name)
	}
	assert.Equal(t, []string{"read_file"}, names)
}

func TestManagerRendersSystemPromptTemplate(t *testing.T) {
	adapter := answering("ok")
	m := NewManager(adapter, parentRegistry(nil))
	m.Register(Definition{
		Type:         "researcher",
		SystemPrompt: "You are a {{.AgentType}} working in {{.WorkDir}}.",
	})

	_, err := m.Run(context.Background(), "researcher", "parent-model", "go", "/repo")
	require.NoError(t, err)
	assert.Equal(t, "You are a researcher working in /repo.", adapter.lastRequest().System)
}

func TestManagerModelOverride(t *testing.T) {
	adapter := answering("ok")
	m := NewManager(adapter, parentRegistry(nil), func(o *Options) {
		o.DefaultModel = "default-model"
	})
	m.Register(Definition{Type: "fast", Model: "tiny-model"})

	_, err := m.Run(context.Background(), "fast", "parent-model", "go", "")
	require.NoError(t, err)
	assert.Equal(t, "tiny-model", adapter.lastRequest().Model)
}

func TestManagerRunPropagatesChildError(t *testing.T) {
	m := NewManager(&erroringAdapter{}, parentRegistry(nil))
	m.Register(Definition{Type: "researcher"})

	_, err := m.Run(context.Background(), "researcher", "parent-model", "task", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_error")
}

type erroringAdapter struct{}

func (a *erroringAdapter) Name() string { return "erroring" }

func (a *erroringAdapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return nil, &provider.AuthError{Provider: "erroring", Message: "no key"}
}

func TestSpawnToolSchemaListsVisibleTypes(t *testing.T) {
	m := NewManager(answering("x"), parentRegistry(nil))
	m.Register(Definition{Type: "researcher", Description: "Digs through files"})
	m.Register(Definition{Type: "reviewer", Description: "Reviews diffs"})

	st := NewSpawnTool(m, "parent-model")
	assert.Contains(t, st.Description(), "researcher")
	assert.Contains(t, st.Description(), "Reviews diffs")

	props := st.Parameters()["properties"].(map[string]any)
	agentType := props["agent_type"].(map[string]any)
	assert.Equal(t, []string{"researcher", "reviewer"}, agentType["enum"])
}

func TestSpawnToolCall(t *testing.T) {
	adapter := answering("delegated answer")
	m := NewManager(adapter, parentRegistry(nil))
	m.Register(Definition{Type: "researcher"})

	st := NewSpawnTool(m, "parent-model")
	out, err := st.Call(context.Background(), tool.Invocation{
		CallID:  "call_1",
		Args:    map[string]any{"agent_type": "researcher", "prompt": "look"},
		WorkDir: "/work",
	})
	require.NoError(t, err)
	assert.Equal(t, "delegated answer", out)
}

func TestSpawnToolCallMissingArgs(t *testing.T) {
	m := NewManager(answering("x"), parentRegistry(nil))
	st := NewSpawnTool(m, "parent-model")
	_, err := st.Call(context.Background(), tool.Invocation{Args: map[string]any{}})
	require.Error(t, err)
}
