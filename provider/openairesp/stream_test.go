package openairesp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
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

func TestStreamerTextAndFunctionCall(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"response.output_text.delta","delta":"Sure"}`),
		wireEvent(t, `{"type":"response.output_item.added","output_index":1,"item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"Bash","arguments":""}}`),
		wireEvent(t, `{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{\"command\":"}`),
		wireEvent(t, `{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"\"ls\"}"}`),
		wireEvent(t, `{"type":"response.output_item.done","item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"Bash"}}`),
		wireEvent(t, `{"type":"response.completed","response":{"id":"resp_9","status":"completed","usage":{"input_tokens":9,"output_tokens":3}}}`),
	}

	stream := ssestream.NewStream[responses.ResponseStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Bash"}))
	defer func() { _ = s.Close() }()

	deltas := drain(t, s)
	require.Len(t, deltas, 4)

	assert.Equal(t, provider.Delta{Type: provider.DeltaText, Text: "Sure"}, deltas[0])

	require.Equal(t, provider.DeltaToolCall, deltas[1].Type)
	assert.Equal(t, "call_1", deltas[1].ToolCall.CallID)
	assert.Equal(t, "Bash", deltas[1].ToolCall.ToolName)
	assert.Equal(t, `{"command":"ls"}`, deltas[1].ToolCall.ArgumentsJSON)

	require.Equal(t, provider.DeltaUsage, deltas[2].Type)
	assert.Equal(t, core.Usage{InputTokens: 9, OutputTokens: 3, TotalTokens: 12}, *deltas[2].Usage)

	assert.Equal(t, provider.Delta{Type: provider.DeltaStop, StopReason: "completed"}, deltas[3])

	meta := s.Metadata()
	require.NotNil(t, meta)
	assert.Equal(t, "resp_9", meta["response_id"])
}

func TestStreamerDuplicateItemDoneEmitsOnce(t *testing.T) {
	events := []ssestream.Event{
		wireEvent(t, `{"type":"response.output_item.added","item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"Read","arguments":"{}"}}`),
		wireEvent(t, `{"type":"response.output_item.done","item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"Read"}}`),
		wireEvent(t, `{"type":"response.output_item.done","item":{"type":"function_call","id":"item_1","call_id":"call_1","name":"Read"}}`),
	}

	stream := ssestream.NewStream[responses.ResponseStreamEventUnion](&testDecoder{events: events}, nil)
	s := newStreamer(context.Background(), stream, provider.NewAccumulator([]string{"Read"}))
	defer func() { _ = s.Close() }()

	deltas := drain(t, s)
	require.Len(t, deltas, 1)
	assert.Equal(t, "call_1", deltas[0].ToolCall.CallID)
}

func TestBuildInputTrimsAtPreviousResponse(t *testing.T) {
	history := []core.ConversationItem{
		core.NewUserTextMessage("first"),
		core.AssistantMessage{Parts: []core.Part{core.TextPart{Text: "old answer"}}, ResponseID: "resp_1"},
		core.NewUserTextMessage("second"),
	}

	items := buildInput(history, "resp_1")
	require.Len(t, items, 1)
	msg := items[0].OfMessage
	require.NotNil(t, msg)

	full := buildInput(history, "")
	assert.Len(t, full, 3)
}

func TestBuildInputToolFlow(t *testing.T) {
	history := []core.ConversationItem{
		core.NewUserTextMessage("list files"),
		core.AssistantMessage{Parts: []core.Part{
			core.TextPart{Text: "Sure"},
			core.ToolCallPart{CallID: "call_1", ToolName: "Bash", ArgumentsJSON: `{"command":"ls"}`},
		}},
		core.ToolResultMessage{CallID: "call_1", ToolName: "Bash", OutputText: "a.txt", Status: core.ToolResultSuccess},
	}

	items := buildInput(history, "")
	require.Len(t, items, 4)

	call := items[2].OfFunctionCall
	require.NotNil(t, call)
	assert.Equal(t, "call_1", call.CallID)
	assert.Equal(t, "Bash", call.Name)

	output := items[3].OfFunctionCallOutput
	require.NotNil(t, output)
	assert.Equal(t, "call_1", output.CallID)
}
