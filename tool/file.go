package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadFileTool returns file contents with line numbers, supporting offset and
// limit for large files.
type ReadFileTool struct{}

// NewReadFileTool constructs the tool.
func NewReadFileTool() *ReadFileTool { return &ReadFileTool{} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the working directory, returning numbered lines."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the working directory",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "1-based line to start from",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Call(ctx context.Context, inv Invocation) (string, error) {
	path := inv.StringArg("path", "")
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	path = resolvePath(inv.WorkDir, path)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	offset := inv.IntArg("offset", 1)
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return "", fmt.Errorf("offset %d past end of file (%d lines)", offset, len(lines))
	}
	limit := inv.IntArg("limit", len(lines))
	end := offset - 1 + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	return b.String(), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

// NewWriteFileTool constructs the tool.
func NewWriteFileTool() *WriteFileTool { return &WriteFileTool{} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the working directory, replacing it if present."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path, absolute or relative to the working directory",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The full content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Call(ctx context.Context, inv Invocation) (string, error) {
	path := inv.StringArg("path", "")
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	content, ok := inv.Args["content"].(string)
	if !ok {
		return "", fmt.Errorf("content must be a string")
	}
	path = resolvePath(inv.WorkDir, path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) || workDir == "" {
		return path
	}
	return filepath.Join(workDir, path)
}
