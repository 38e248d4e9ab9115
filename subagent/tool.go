package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnkit/turnkit/tool"
)

// SpawnToolName is the tool name models use to delegate to a sub-agent.
const SpawnToolName = "spawn_agent"

// SpawnTool exposes a Manager as a tool in the parent registry. It is bound
// to the invoking model so visibility filtering applies both to the
// advertised agent types and at spawn time.
type SpawnTool struct {
	manager       *Manager
	invokingModel string
}

// NewSpawnTool constructs the tool for the given invoking model.
func NewSpawnTool(manager *Manager, invokingModel string) *SpawnTool {
	return &SpawnTool{manager: manager, invokingModel: invokingModel}
}

func (t *SpawnTool) Name() string { return SpawnToolName }

func (t *SpawnTool) Description() string {
	var b strings.Builder
	b.WriteString("Delegate a self-contained task to a specialized sub-agent and return its final answer.")
	defs := t.manager.Visible(t.invokingModel)
	if len(defs) > 0 {
		b.WriteString(" Available agent types:")
		for _, def := range defs {
			fmt.Fprintf(&b, "\n- %s: %s", def.Type, def.Description)
		}
	}
	return b.String()
}

func (t *SpawnTool) Parameters() map[string]any {
	types := make([]string, 0)
	for _, def := range t.manager.Visible(t.invokingModel) {
		types = append(types, def.Type)
	}
	agentType := map[string]any{
		"type":        "string",
		"description": "The sub-agent type to spawn",
	}
	if len(types) > 0 {
		agentType["enum"] = types
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent_type": agentType,
			"prompt": map[string]any{
				"type":        "string",
				"description": "The complete task description for the sub-agent",
			},
		},
		"required": []string{"agent_type", "prompt"},
	}
}

func (t *SpawnTool) Call(ctx context.Context, inv tool.Invocation) (string, error) {
	agentType := inv.StringArg("agent_type", "")
	prompt := inv.StringArg("prompt", "")
	if agentType == "" || prompt == "" {
		return "", fmt.Errorf("agent_type and prompt are required")
	}
	return t.manager.Run(ctx, agentType, t.invokingModel, prompt, inv.WorkDir)
}
