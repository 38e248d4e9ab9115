package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashToolRunsCommand(t *testing.T) {
	out, err := NewBashTool().Call(context.Background(), Invocation{
		CallID:  "call_1",
		Args:    map[string]any{"command": "echo hello"},
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestBashToolCapturesStderr(t *testing.T) {
	out, err := NewBashTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"command": "echo oops >&2"},
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "oops\n", out)
}

func TestBashToolFailureIncludesOutput(t *testing.T) {
	_, err := NewBashTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"command": "echo broken; exit 3"},
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestBashToolEmptyCommand(t *testing.T) {
	_, err := NewBashTool().Call(context.Background(), Invocation{
		Args: map[string]any{"command": "   "},
	})
	require.Error(t, err)
}

func TestBashToolTimeout(t *testing.T) {
	start := time.Now()
	_, err := NewBashToolWithTimeout(100*time.Millisecond).Call(context.Background(), Invocation{
		Args:    map[string]any{"command": "sleep 5"},
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBashToolRunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	out, err := NewBashTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"command": "pwd"},
		WorkDir: dir,
	})
	require.NoError(t, err)
	assert.Contains(t, out, dir)
}

func TestBashToolFiltersCredentialEnv(t *testing.T) {
	t.Setenv("TURNKIT_TEST_API_KEY", "secret-value")
	t.Setenv("TURNKIT_TEST_PLAIN", "visible-value")

	out, err := NewBashTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"command": "env"},
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-value")
	assert.Contains(t, out, "visible-value")
}

func TestFilterEnv(t *testing.T) {
	env := []string{
		"PATH=/usr/bin",
		"MY_SECRET=x",
		"my_token=x",
		"DB_PASSWORD=x",
		"AWS_CREDENTIAL=x",
		"OPENAI_API_KEY=x",
		"HOME=/root",
	}
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/root"}, filterEnv(env))
}
