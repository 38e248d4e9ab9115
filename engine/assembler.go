package engine

import (
	"strings"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// assembler folds a delta stream into the parts of one assistant message,
// emitting display events as content arrives. Thinking text is buffered until
// its signature confirms it; unsigned thinking left over at any boundary is
// degraded into a visible <thinking> text part so it survives providers that
// cannot resume it.
type assembler struct {
	parts      []core.Part
	text       strings.Builder
	thinking   strings.Builder
	stopReason string
}

func newAssembler() *assembler {
	return &assembler{}
}

func (a *assembler) apply(d provider.Delta, emit func(core.Event) error, total *core.Usage) error {
	switch d.Type {
	case provider.DeltaText:
		a.degradeThinking()
		a.text.WriteString(d.Text)
		return emit(core.AssistantMessageDeltaEvent{Text: d.Text})

	case provider.DeltaThinking:
		a.flushText()
		a.thinking.WriteString(d.Text)
		return emit(core.ThinkingDeltaEvent{Text: d.Text})

	case provider.DeltaSignature:
		if a.thinking.Len() > 0 {
			a.parts = append(a.parts,
				core.ThinkingTextPart{Text: a.thinking.String()},
				core.ThinkingSignaturePart{Signature: d.Signature},
			)
			a.thinking.Reset()
		}
		return nil

	case provider.DeltaToolCall:
		a.degradeThinking()
		a.flushText()
		tc := d.ToolCall
		a.parts = append(a.parts, core.ToolCallPart{
			CallID:        tc.CallID,
			ToolName:      tc.ToolName,
			ArgumentsJSON: tc.ArgumentsJSON,
		})
		return emit(core.ToolCallEvent{
			CallID:        tc.CallID,
			ToolName:      tc.ToolName,
			ArgumentsJSON: tc.ArgumentsJSON,
		})

	case provider.DeltaUsage:
		if d.Usage != nil {
			total.Add(*d.Usage)
		}
		return nil

	case provider.DeltaStop:
		a.stopReason = d.StopReason
		return nil
	}
	return nil
}

// finalize closes out pending buffers and returns the assembled message.
// Safe to call after an interrupted or failed stream; the result reflects
// everything received so far.
func (a *assembler) finalize() core.AssistantMessage {
	a.degradeThinking()
	a.flushText()
	return core.AssistantMessage{Parts: a.parts}
}

func (a *assembler) flushText() {
	if a.text.Len() == 0 {
		return
	}
	a.parts = append(a.parts, core.TextPart{Text: a.text.String()})
	a.text.Reset()
}

func (a *assembler) degradeThinking() {
	if a.thinking.Len() == 0 {
		return
	}
	a.parts = append(a.parts, core.TextPart{
		Text: "<thinking>" + a.thinking.String() + "</thinking>",
	})
	a.thinking.Reset()
}
