package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebFetchToolFetchesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	wf := NewWebFetchTool()
	inv := Invocation{Args: map[string]any{"url": srv.URL}}

	out, err := wf.Call(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "page body", out)

	out, err = wf.Call(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "page body", out)
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebFetchToolErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewWebFetchTool().Call(context.Background(), Invocation{
		Args: map[string]any{"url": srv.URL},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestWebFetchToolLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	wf := NewWebFetchTool(func(o *WebFetchOptions) { o.MaxBytes = 10 })
	out, err := wf.Call(context.Background(), Invocation{Args: map[string]any{"url": srv.URL}})
	require.NoError(t, err)
	assert.Len(t, out, 10)
}

func TestWebFetchToolEmptyURL(t *testing.T) {
	_, err := NewWebFetchTool().Call(context.Background(), Invocation{Args: map[string]any{}})
	require.Error(t, err)
}
