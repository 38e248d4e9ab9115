package provider

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Accumulator reassembles fragmented streamed tool-call data. Providers
// deliver tool names and argument JSON split across many chunks, keyed by a
// per-block id of their own; adapters feed the fragments here in arrival
// order and finalize when the provider signals the block complete (or the
// stream ends).
type Accumulator struct {
	canonical map[string]struct{}
	blocks    map[string]*pendingCall
}

type pendingCall struct {
	callID     string
	responseID string
	name       strings.Builder
	fragments  []string

	done     bool
	finalReq ToolCallRequest
	finalErr error
}

// NewAccumulator constructs an accumulator that normalizes mangled names
// against the given canonical tool names.
func NewAccumulator(canonicalNames []string) *Accumulator {
	canonical := make(map[string]struct{}, len(canonicalNames))
	for _, n := range canonicalNames {
		canonical[n] = struct{}{}
	}
	return &Accumulator{
		canonical: canonical,
		blocks:    make(map[string]*pendingCall),
	}
}

// Bind associates the provider's stable call id (and, when known, response
// id) with a block. When never bound, the block id doubles as the call id.
func (a *Accumulator) Bind(blockID, callID, responseID string) {
	pc := a.block(blockID)
	if callID != "" {
		pc.callID = callID
	}
	if responseID != "" {
		pc.responseID = responseID
	}
}

// Feed appends name and argument fragments for a block, strictly in arrival
// order. Empty fragments are ignored. Feeding after finalize has no effect.
func (a *Accumulator) Feed(blockID, nameFragment, argumentsFragment string) {
	pc := a.block(blockID)
	if pc.done {
		return
	}
	if nameFragment != "" {
		pc.name.WriteString(nameFragment)
	}
	if argumentsFragment != "" {
		pc.fragments = append(pc.fragments, argumentsFragment)
	}
}

// Finalize joins the buffered fragments, normalizes the tool name and
// returns the completed request. Idempotent: a second call for the same
// block returns the identical result without re-reading the buffer. A
// non-nil error means the joined arguments do not parse as a JSON object;
// the request is still returned so the caller can report a tool error
// instead of crashing.
func (a *Accumulator) Finalize(blockID string) (ToolCallRequest, error) {
	pc := a.block(blockID)
	if pc.done {
		return pc.finalReq, pc.finalErr
	}
	pc.done = true

	callID := pc.callID
	if callID == "" {
		callID = blockID
	}
	name := a.NormalizeToolName(pc.name.String())

	args := strings.Join(pc.fragments, "")
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}

	pc.finalReq = ToolCallRequest{
		ResponseID:    pc.responseID,
		CallID:        callID,
		ToolName:      name,
		ArgumentsJSON: args,
	}
	if !gjson.Valid(args) || !gjson.Parse(args).IsObject() {
		pc.finalErr = &AccumulationError{
			CallID:  callID,
			Tool:    name,
			Message: "arguments did not finalize as a JSON object",
		}
	}
	return pc.finalReq, pc.finalErr
}

// Pending returns the block ids that were fed but never finalized, in no
// particular order. Adapters use this to flush blocks left open when the
// stream ends without closing them.
func (a *Accumulator) Pending() []string {
	var ids []string
	for id, pc := range a.blocks {
		if !pc.done {
			ids = append(ids, id)
		}
	}
	return ids
}

// NormalizeToolName strips the provider-added wrapper of the form
// tool_<CanonicalName>_<random-suffix>, but only when the middle segment
// exactly matches a registered canonical tool name. Names without both the
// prefix and a suffix segment, or whose middle segment is not registered,
// pass through unchanged.
func (a *Accumulator) NormalizeToolName(name string) string {
	const prefix = "tool_"
	if !strings.HasPrefix(name, prefix) {
		return name
	}
	rest := name[len(prefix):]
	i := strings.LastIndex(rest, "_")
	if i <= 0 {
		return name
	}
	middle := rest[:i]
	if _, ok := a.canonical[middle]; ok {
		return middle
	}
	return name
}

func (a *Accumulator) block(blockID string) *pendingCall {
	pc, ok := a.blocks[blockID]
	if !ok {
		pc = &pendingCall{}
		a.blocks[blockID] = pc
	}
	return pc
}
