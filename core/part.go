package core

// Part is one element of an assistant or user message. The interface is a
// closed set; the unexported marker keeps external packages from adding
// variants.
type Part interface {
	isPart()
}

// TextPart carries plain visible text.
type TextPart struct {
	Text string
}

// ThinkingTextPart carries model reasoning text that is not shown as regular
// output but must be sent back to providers that resume reasoning blocks.
type ThinkingTextPart struct {
	Text string
}

// ThinkingSignaturePart is an opaque provider continuation token attached to
// a preceding ThinkingTextPart. It must be echoed back byte for byte on the
// next request; providers reject turns with altered signatures.
type ThinkingSignaturePart struct {
	Signature string
}

// ToolCallPart records a tool invocation requested by the model. CallID is
// unique within the owning message and joins the call to its result.
// ArgumentsJSON holds the raw argument text as finalized from the stream; it
// may be incomplete or invalid JSON when the stream was truncated, which is
// representable here and reported as a tool error downstream.
type ToolCallPart struct {
	CallID        string
	ToolName      string
	ArgumentsJSON string
}

// ImagePart references image content by an opaque ref (URL or data URI).
type ImagePart struct {
	Ref string
}

func (TextPart) isPart()              {}
func (ThinkingTextPart) isPart()      {}
func (ThinkingSignaturePart) isPart() {}
func (ToolCallPart) isPart()          {}
func (ImagePart) isPart()             {}
