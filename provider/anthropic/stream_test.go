package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func wireEvent(t *testing.T, raw string) ssestream.Event {
	t.Helper()
	var head struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &head))
	return ssestream.Event{Type: head.Type, Data: json.RawMessage(raw)}
}

func drain(t *testing.T, s provider.Streamer) []provider.Delta {
	t.Helper()
	var deltas []provider.Delta
	for {
		d, err := s.Recv()
		if err != nil {
			require.True(t, errors.Is(err, io.EOF), "unexpected stream error: %v", err)
			return deltas
		}
		deltas = append(deltas, d)
	}
}

func TestStreamerTextThinkingAndToolCall(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"message_start","message":{"id":"msg_01","role":"assistant"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me see"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-abc"}}`),
		wireEvent(t, `{"type":"content_block_stop","index":0}`),
		wireEvent(t, `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Sure"}}`),
		wireEvent(t, `{"type":"content_block_start","index":2,"content_block":{"type":"tool_use","id":"toolu_1","name":"Bash"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"{\"command\":"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":2,"delta":{"type":"input_json_delta","partial_json":"\"ls\"}"}}`),
		wireEvent(t, `{"type":"content_block_stop","index":2}`),
		wireEvent(t, `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":10,"output_tokens":5}}`),
		wireEvent(t, `{"type":"message_stop"}`),
	}

	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Bash"}))
	defer func() { _ = s.Close() }()

	deltas := drain(t, s)
	require.Len(t, deltas, 6)

	assert.Equal(t, provider.Delta{Type: provider.DeltaThinking, Text: "let me see"}, deltas[0])
	assert.Equal(t, provider.Delta{Type: provider.DeltaSignature, Signature: "sig-abc"}, deltas[1])
	assert.Equal(t, provider.Delta{Type: provider.DeltaText, Text: "Sure"}, deltas[2])

	require.Equal(t, provider.DeltaToolCall, deltas[3].Type)
	require.NotNil(t, deltas[3].ToolCall)
	assert.Equal(t, "toolu_1", deltas[3].ToolCall.CallID)
	assert.Equal(t, "Bash", deltas[3].ToolCall.ToolName)
	assert.Equal(t, `{"command":"ls"}`, deltas[3].ToolCall.ArgumentsJSON)
	assert.Equal(t, "msg_01", deltas[3].ToolCall.ResponseID)

	require.Equal(t, provider.DeltaUsage, deltas[4].Type)
	assert.Equal(t, core.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, *deltas[4].Usage)

	assert.Equal(t, provider.Delta{Type: provider.DeltaStop, StopReason: "tool_use"}, deltas[5])

	meta := s.Metadata()
	require.NotNil(t, meta)
	assert.Equal(t, "msg_01", meta["response_id"])
}

func TestStreamerMangledToolName(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_9","name":"tool_Edit_mUoY2p3W3r3z8uO5P2nZ"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{}"}}`),
		wireEvent(t, `{"type":"content_block_stop","index":0}`),
		wireEvent(t, `{"type":"message_stop"}`),
	}

	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Edit"}))
	defer func() { _ = s.Close() }()

	deltas := drain(t, s)
	require.Len(t, deltas, 2)
	require.Equal(t, provider.DeltaToolCall, deltas[0].Type)
	assert.Equal(t, "Edit", deltas[0].ToolCall.ToolName)
}

func TestStreamerFlushesOpenToolBlocksAtStreamEnd(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_a","name":"Bash"}}`),
		wireEvent(t, `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"command\":\"ls\"}"}}`),
		wireEvent(t, `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_b","name":"Edit"}}`),
		// The stream ends without content_block_stop or message_stop.
	}

	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Bash", "Edit"}))
	defer func() { _ = s.Close() }()

	deltas := drain(t, s)
	require.Len(t, deltas, 2)

	require.Equal(t, provider.DeltaToolCall, deltas[0].Type)
	assert.Equal(t, "toolu_a", deltas[0].ToolCall.CallID)
	assert.Equal(t, "Bash", deltas[0].ToolCall.ToolName)
	assert.Equal(t, `{"command":"ls"}`, deltas[0].ToolCall.ArgumentsJSON)

	require.Equal(t, provider.DeltaToolCall, deltas[1].Type)
	assert.Equal(t, "toolu_b", deltas[1].ToolCall.CallID)
	assert.Equal(t, `{}`, deltas[1].ToolCall.ArgumentsJSON)
}

func TestStreamerMissingToolID(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"","name":"Bash"}}`),
	}

	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Bash"}))
	defer func() { _ = s.Close() }()

	_, err := s.Recv()
	var decodeErr *provider.ProtocolDecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestStreamerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](&testDecoder{}, nil)
	s := newStreamer(ctx, stream, provider.NewAccumulator(nil))
	defer func() { _ = s.Close() }()

	cancel()
	for {
		_, err := s.Recv()
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			// Drained before cancellation was observed.
			return
		}
		assert.True(t, errors.Is(err, context.Canceled))
		return
	}
}

func TestBuildMessagesSignatureRoundTrip(t *testing.T) {
	history := []core.ConversationItem{
		core.NewUserTextMessage("list files"),
		core.AssistantMessage{Parts: []core.Part{
			core.ThinkingTextPart{Text: "planning"},
			core.ThinkingSignaturePart{Signature: "sig-xyz"},
			core.TextPart{Text: "Sure"},
			core.ToolCallPart{CallID: "toolu_1", ToolName: "Bash", ArgumentsJSON: `{"command":"ls"}`},
		}},
		core.ToolResultMessage{CallID: "toolu_1", ToolName: "Bash", OutputText: "a.txt", Status: core.ToolResultSuccess},
	}

	messages := buildMessages(history)
	require.Len(t, messages, 3)

	assistant := messages[1]
	require.Len(t, assistant.Content, 3)

	thinking := assistant.Content[0].OfThinking
	require.NotNil(t, thinking)
	assert.Equal(t, "sig-xyz", thinking.Signature)
	assert.Equal(t, "planning", thinking.Thinking)

	toolUse := assistant.Content[2].OfToolUse
	require.NotNil(t, toolUse)
	assert.Equal(t, "toolu_1", toolUse.ID)

	result := messages[2].Content[0].OfToolResult
	require.NotNil(t, result)
	assert.Equal(t, "toolu_1", result.ToolUseID)
}

func TestBuildMessagesSkipsUnsignedThinking(t *testing.T) {
	history := []core.ConversationItem{
		core.AssistantMessage{Parts: []core.Part{
			core.ThinkingTextPart{Text: "half a thought"},
			core.TextPart{Text: "done"},
		}},
	}

	messages := buildMessages(history)
	require.Len(t, messages, 1)
	require.Len(t, messages[0].Content, 1)
	assert.NotNil(t, messages[0].Content[0].OfText)
}
