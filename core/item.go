package core

import "fmt"

// ToolResultStatus describes the outcome of one tool invocation.
type ToolResultStatus string

const (
	// ToolResultSuccess means the tool ran and produced output.
	ToolResultSuccess ToolResultStatus = "success"
	// ToolResultError means the tool failed (bad arguments, execution error
	// or unknown tool). The turn continues; the model sees the error text.
	ToolResultError ToolResultStatus = "error"
	// ToolResultAborted means the call was cancelled before a result was
	// produced, typically by a turn interrupt.
	ToolResultAborted ToolResultStatus = "aborted"
)

// ConversationItem is one immutable logical entry of the conversation
// history. The set of variants is closed: UserMessage, AssistantMessage and
// ToolResultMessage.
type ConversationItem interface {
	isConversationItem()
}

// UserMessage is input supplied by the user (or a compaction summary).
type UserMessage struct {
	Parts []Part
}

// AssistantMessage is one finalized model turn. Parts preserve the order in
// which the stream produced them. ResponseID is the provider-side identifier
// of the response that produced this message, when the provider exposes one.
type AssistantMessage struct {
	Parts      []Part
	ResponseID string
}

// ToolResultMessage pairs a ToolCallPart with its outcome via CallID.
type ToolResultMessage struct {
	CallID     string
	ToolName   string
	OutputText string
	Status     ToolResultStatus
}

func (UserMessage) isConversationItem()       {}
func (AssistantMessage) isConversationItem()  {}
func (ToolResultMessage) isConversationItem() {}

// NewUserTextMessage builds a UserMessage holding a single text part.
func NewUserTextMessage(text string) UserMessage {
	return UserMessage{Parts: []Part{TextPart{Text: text}}}
}

// Text concatenates the visible text parts of the message.
func (m AssistantMessage) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolCalls returns the tool call parts in declaration order.
func (m AssistantMessage) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Validate checks well-formedness: every ToolCallPart must carry a non-empty
// CallID that is unique within the message. Argument JSON validity is
// deliberately not checked here; truncated streams legitimately finalize
// invalid JSON and the tool layer converts that into an error result.
func (m AssistantMessage) Validate() error {
	seen := make(map[string]struct{})
	for _, p := range m.Parts {
		tc, ok := p.(ToolCallPart)
		if !ok {
			continue
		}
		if tc.CallID == "" {
			return fmt.Errorf("tool call part for %q has empty call id", tc.ToolName)
		}
		if _, dup := seen[tc.CallID]; dup {
			return fmt.Errorf("duplicate tool call id %q", tc.CallID)
		}
		seen[tc.CallID] = struct{}{}
	}
	return nil
}
