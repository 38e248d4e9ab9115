package turnkit

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
	"github.com/turnkit/turnkit/tool"
)

type staticAdapter struct {
	deltas []provider.Delta
}

func (a *staticAdapter) Name() string { return "static" }

func (a *staticAdapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	return &staticStreamer{ctx: ctx, deltas: a.deltas}, nil
}

type staticStreamer struct {
	ctx    context.Context
	deltas []provider.Delta
	i      int
}

func (s *staticStreamer) Recv() (provider.Delta, error) {
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

func (s *staticStreamer) Close() error             { return nil }
func (s *staticStreamer) Metadata() map[string]any { return nil }

func TestClientRunSync(t *testing.T) {
	adapter := &staticAdapter{deltas: []provider.Delta{
		{Type: provider.DeltaText, Text: "hello"},
		{Type: provider.DeltaStop, StopReason: "end_turn"},
	}}
	client := New(adapter, func(o *Options) {
		o.Model = "test-model"
		o.SystemPrompt = "be brief"
	})
	client.RegisterTool(tool.NewBashTool())

	sess, err := client.StartSession(context.Background(), "/work")
	require.NoError(t, err)
	assert.Equal(t, "be brief", sess.SystemPrompt)

	events, err := client.RunSync(context.Background(), sess.ID, "hi")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, core.AssistantMessageDeltaEvent{Text: "hello"}, events[0])
	assert.IsType(t, core.TaskFinishEvent{}, events[1])
}

func TestClientUnknownSession(t *testing.T) {
	client := New(&staticAdapter{})
	_, err := client.RunSync(context.Background(), "missing", "hi")
	require.Error(t, err)
}

func TestClientSessionPersistedAcrossTurns(t *testing.T) {
	adapter := &staticAdapter{deltas: []provider.Delta{
		{Type: provider.DeltaText, Text: "ok"},
		{Type: provider.DeltaStop, StopReason: "end_turn"},
	}}
	client := New(adapter, func(o *Options) { o.Model = "m" })

	sess, err := client.StartSession(context.Background(), "")
	require.NoError(t, err)

	_, err = client.RunSync(context.Background(), sess.ID, "first")
	require.NoError(t, err)
	_, err = client.RunSync(context.Background(), sess.ID, "second")
	require.NoError(t, err)

	// user, assistant, user, assistant
	loaded, err := client.opts.Store.Load(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
}
