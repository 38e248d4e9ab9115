package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssistantMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     AssistantMessage
		wantErr bool
	}{
		{
			name: "text only",
			msg:  AssistantMessage{Parts: []Part{TextPart{Text: "hi"}}},
		},
		{
			name: "unique call ids",
			msg: AssistantMessage{Parts: []Part{
				ToolCallPart{CallID: "a", ToolName: "Bash", ArgumentsJSON: "{}"},
				ToolCallPart{CallID: "b", ToolName: "Read", ArgumentsJSON: "{}"},
			}},
		},
		{
			name: "empty call id",
			msg: AssistantMessage{Parts: []Part{
				ToolCallPart{ToolName: "Bash", ArgumentsJSON: "{}"},
			}},
			wantErr: true,
		},
		{
			name: "duplicate call id",
			msg: AssistantMessage{Parts: []Part{
				ToolCallPart{CallID: "a", ToolName: "Bash"},
				ToolCallPart{CallID: "a", ToolName: "Read"},
			}},
			wantErr: true,
		},
		{
			name: "invalid arguments json is representable",
			msg: AssistantMessage{Parts: []Part{
				ToolCallPart{CallID: "a", ToolName: "Bash", ArgumentsJSON: `{"cmd": "ls`},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssistantMessageAccessors(t *testing.T) {
	msg := AssistantMessage{Parts: []Part{
		TextPart{Text: "Sure, "},
		ToolCallPart{CallID: "c1", ToolName: "Bash"},
		TextPart{Text: "running."},
		ToolCallPart{CallID: "c2", ToolName: "Read"},
	}}

	assert.Equal(t, "Sure, running.", msg.Text())

	calls := msg.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].CallID)
	assert.Equal(t, "c2", calls[1].CallID)
}

func TestSessionHistory(t *testing.T) {
	sess := NewSession(NewID(), "", "")
	sess.Append(NewUserTextMessage("hello"))
	sess.Append(AssistantMessage{Parts: []Part{TextPart{Text: "hi"}}})

	require.Equal(t, 2, sess.Len())

	// Snapshot must not alias internal state.
	snap := sess.History()
	sess.Append(NewUserTextMessage("more"))
	assert.Len(t, snap, 2)
	assert.Equal(t, 3, sess.Len())
}

func TestSessionReplacePrefix(t *testing.T) {
	sess := NewSession("s1", "", "")
	sess.Append(
		NewUserTextMessage("one"),
		AssistantMessage{Parts: []Part{TextPart{Text: "two"}}},
		NewUserTextMessage("three"),
	)

	sess.ReplacePrefix(2, NewUserTextMessage("summary of earlier conversation"))

	hist := sess.History()
	require.Len(t, hist, 2)
	first, ok := hist[0].(UserMessage)
	require.True(t, ok)
	tp, ok := first.Parts[0].(TextPart)
	require.True(t, ok)
	assert.Equal(t, "summary of earlier conversation", tp.Text)
}

func TestSessionClone(t *testing.T) {
	sess := NewSession("s1", "/tmp/project", "be brief")
	sess.Append(NewUserTextMessage("hello"))

	clone := sess.Clone()
	clone.Append(NewUserTextMessage("extra"))

	assert.Equal(t, 1, sess.Len())
	assert.Equal(t, 2, clone.Len())
	assert.Equal(t, sess.WorkDir, clone.WorkDir)
	assert.Equal(t, sess.SystemPrompt, clone.SystemPrompt)
}

func TestNewIDUnique(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
