package tool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultBashTimeout bounds shell command execution.
const DefaultBashTimeout = 2 * time.Minute

// sensitive environment variables never reach spawned commands.
var sensitiveEnvSuffixes = []string{
	"_API_KEY", "_SECRET", "_TOKEN", "_PASSWORD", "_CREDENTIAL",
}

// BashTool runs shell commands in the session working directory. Commands
// run in their own process group so a timeout or cancellation kills the
// whole tree, and credential-bearing environment variables are withheld.
type BashTool struct {
	timeout time.Duration
}

// NewBashTool constructs the tool with the default timeout.
func NewBashTool() *BashTool {
	return &BashTool{timeout: DefaultBashTimeout}
}

// NewBashToolWithTimeout overrides the default command timeout.
func NewBashToolWithTimeout(timeout time.Duration) *BashTool {
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	return &BashTool{timeout: timeout}
}

func (t *BashTool) Name() string { return "bash" }

func (t *BashTool) Description() string {
	return "Run a shell command in the working directory and return its combined output."
}

func (t *BashTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeout_seconds": map[string]any{
				"type":        "integer",
				"description": "Optional timeout in seconds",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Call(ctx context.Context, inv Invocation) (string, error) {
	command := inv.StringArg("command", "")
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command must not be empty")
	}

	timeout := t.timeout
	if secs := inv.IntArg("timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "bash", "-c", command)
	cmd.Dir = inv.WorkDir
	cmd.Env = filterEnv(os.Environ())
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid signals the whole process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.String()

	if cctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("command timed out after %s", timeout)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil {
		if out == "" {
			return "", fmt.Errorf("command failed: %w", err)
		}
		return "", fmt.Errorf("command failed: %w\n%s", err, out)
	}
	return out, nil
}

// filterEnv drops variables whose names carry credential suffixes.
func filterEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if hasSensitiveSuffix(name) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func hasSensitiveSuffix(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range sensitiveEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
