package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFileToolNumbersLines(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	out, err := NewReadFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "a.txt"},
		WorkDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "     1\tone\n     2\ttwo\n     3\tthree\n", out)
}

func TestReadFileToolOffsetAndLimit(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\nfour\n"), 0o644))

	out, err := NewReadFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "a.txt", "offset": float64(2), "limit": float64(2)},
		WorkDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, "     2\ttwo\n     3\tthree\n", out)
}

func TestReadFileToolOffsetPastEnd(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\n"), 0o644))

	_, err := NewReadFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "a.txt", "offset": float64(10)},
		WorkDir: dir,
	})
	require.Error(t, err)
}

func TestReadFileToolMissingFile(t *testing.T) {
	_, err := NewReadFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "nope.txt"},
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestWriteFileToolCreatesParents(t *testing.T) {
	dir := t.TempDir()

	out, err := NewWriteFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "sub/dir/b.txt", "content": "payload"},
		WorkDir: dir,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "7 bytes")

	data, err := os.ReadFile(filepath.Join(dir, "sub", "dir", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestWriteFileToolRequiresStringContent(t *testing.T) {
	_, err := NewWriteFileTool().Call(context.Background(), Invocation{
		Args:    map[string]any{"path": "a.txt", "content": float64(1)},
		WorkDir: t.TempDir(),
	})
	require.Error(t, err)
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/abs/x.txt", resolvePath("/work", "/abs/x.txt"))
	assert.Equal(t, "/work/x.txt", resolvePath("/work", "x.txt"))
	assert.Equal(t, "x.txt", resolvePath("", "x.txt"))
}
