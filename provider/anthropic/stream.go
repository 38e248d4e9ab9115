package anthropic

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// streamer adapts an Anthropic Messages event stream to provider.Streamer.
// A background goroutine drains the wire stream through the chunk processor;
// Recv pulls decoded deltas until io.EOF.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	deltas chan provider.Delta

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], acc *provider.Accumulator) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		deltas: make(chan provider.Delta, 32),
	}
	go s.run(acc)
	return s
}

// Recv returns the next decoded delta, the stream error, or io.EOF.
func (s *streamer) Recv() (provider.Delta, error) {
	select {
	case delta, ok := <-s.deltas:
		if ok {
			return delta, nil
		}
		if err := s.err(); err != nil {
			return provider.Delta{}, err
		}
		return provider.Delta{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return provider.Delta{}, err
	}
}

// Close releases the connection. Safe to call more than once.
func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

// Metadata exposes the response id and usage once known.
func (s *streamer) Metadata() map[string]any {
	s.metaMu.RLock()
	defer s.metaMu.RUnlock()
	if len(s.metadata) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

func (s *streamer) run(acc *provider.Accumulator) {
	defer close(s.deltas)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	proc := newChunkProcessor(s.emit, s.recordMeta, acc)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(classifyStreamErr(err))
			} else if err := s.ctx.Err(); err != nil {
				s.setErr(err)
			} else if err := proc.Flush(); err != nil {
				s.setErr(err)
			}
			return
		}
		if err := proc.Handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(delta provider.Delta) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.deltas <- delta:
		return nil
	}
}

func (s *streamer) recordMeta(key string, value any) {
	s.metaMu.Lock()
	if s.metadata == nil {
		s.metadata = make(map[string]any)
	}
	s.metadata[key] = value
	s.metaMu.Unlock()
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// chunkProcessor converts wire events into canonical deltas. It carries the
// per-stream decode state: the tool-call accumulator, per-block thinking
// signatures and the pending stop reason.
type chunkProcessor struct {
	emit       func(provider.Delta) error
	recordMeta func(string, any)
	acc        *provider.Accumulator

	responseID string
	toolBlocks map[int]string
	signatures map[int]*strings.Builder
	stopReason string
}

func newChunkProcessor(emit func(provider.Delta) error, recordMeta func(string, any), acc *provider.Accumulator) *chunkProcessor {
	return &chunkProcessor{
		emit:       emit,
		recordMeta: recordMeta,
		acc:        acc,
		toolBlocks: make(map[int]string),
		signatures: make(map[int]*strings.Builder),
	}
}

func (p *chunkProcessor) Handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		p.responseID = ev.Message.ID
		if p.responseID != "" {
			p.recordMeta("response_id", p.responseID)
		}
		return nil

	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return &provider.ProtocolDecodeError{Provider: providerName, Message: "tool use block missing id"}
			}
			if toolUse.Name == "" {
				return &provider.ProtocolDecodeError{
					Provider: providerName,
					Message:  fmt.Sprintf("tool use block %q missing name", toolUse.ID),
				}
			}
			key := blockKey(idx)
			p.toolBlocks[idx] = key
			p.acc.Bind(key, toolUse.ID, p.responseID)
			p.acc.Feed(key, toolUse.Name, "")
		}
		return nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(provider.Delta{Type: provider.DeltaText, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			if key, ok := p.toolBlocks[idx]; ok {
				p.acc.Feed(key, "", delta.PartialJSON)
			}
			return nil
		case sdk.ThinkingDelta:
			if delta.Thinking == "" {
				return nil
			}
			return p.emit(provider.Delta{Type: provider.DeltaThinking, Text: delta.Thinking})
		case sdk.SignatureDelta:
			if delta.Signature == "" {
				return nil
			}
			sb := p.signatures[idx]
			if sb == nil {
				sb = &strings.Builder{}
				p.signatures[idx] = sb
			}
			sb.WriteString(delta.Signature)
			return nil
		default:
			return nil
		}

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if sb, ok := p.signatures[idx]; ok {
			delete(p.signatures, idx)
			if err := p.emit(provider.Delta{Type: provider.DeltaSignature, Signature: sb.String()}); err != nil {
				return err
			}
		}
		if key, ok := p.toolBlocks[idx]; ok {
			delete(p.toolBlocks, idx)
			// A finalize error means truncated argument JSON; the request is
			// still emitted and the tool layer reports it as an error result.
			req, _ := p.acc.Finalize(key)
			return p.emit(provider.Delta{Type: provider.DeltaToolCall, ToolCall: &req})
		}
		return nil

	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		usage := core.Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		p.recordMeta("usage", usage)
		return p.emit(provider.Delta{Type: provider.DeltaUsage, Usage: &usage})

	case sdk.MessageStopEvent:
		return p.emit(provider.Delta{Type: provider.DeltaStop, StopReason: p.stopReason})
	}
	return nil
}

// Flush finalizes tool blocks left open when the stream ends without their
// content_block_stop, so a truncated tail never swallows a dispatched call.
func (p *chunkProcessor) Flush() error {
	pending := make(map[string]struct{})
	for _, id := range p.acc.Pending() {
		pending[id] = struct{}{}
	}
	idxs := make([]int, 0, len(p.toolBlocks))
	for idx := range p.toolBlocks {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		key := p.toolBlocks[idx]
		delete(p.toolBlocks, idx)
		if _, open := pending[key]; !open {
			continue
		}
		req, _ := p.acc.Finalize(key)
		if err := p.emit(provider.Delta{Type: provider.DeltaToolCall, ToolCall: &req}); err != nil {
			return err
		}
	}
	return nil
}

func blockKey(idx int) string { return fmt.Sprintf("block_%d", idx) }
