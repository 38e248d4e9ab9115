package session

import (
	"fmt"
	"strings"

	"github.com/turnkit/turnkit/core"
)

// Compact replaces the oldest history items of a session with a single
// summary message, keeping the most recent keep items verbatim. The summary
// is a plain enumeration of what was elided; it is not model-generated.
// Compacting a session whose history already fits is a no-op.
func Compact(sess *core.Session, keep int) {
	if keep < 0 {
		keep = 0
	}
	history := sess.History()
	if len(history) <= keep {
		return
	}
	elided := history[:len(history)-keep]
	summary := core.NewUserTextMessage(summarize(elided))
	sess.ReplacePrefix(len(elided), summary)
}

func summarize(items []core.ConversationItem) string {
	var users, assistants, toolResults int
	var toolNames []string
	seen := map[string]struct{}{}

	for _, item := range items {
		switch m := item.(type) {
		case core.UserMessage:
			users++
		case core.AssistantMessage:
			assistants++
			for _, call := range m.ToolCalls() {
				if _, dup := seen[call.ToolName]; !dup {
					seen[call.ToolName] = struct{}{}
					toolNames = append(toolNames, call.ToolName)
				}
			}
		case core.ToolResultMessage:
			toolResults++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[conversation compacted: %d user message(s), %d assistant message(s), %d tool result(s) elided",
		users, assistants, toolResults)
	if len(toolNames) > 0 {
		fmt.Fprintf(&b, "; tools used: %s", strings.Join(toolNames, ", "))
	}
	b.WriteString("]")
	return b.String()
}
