package openai

import (
	"context"
	"fmt"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// streamer adapts a chat completion chunk stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	deltas chan provider.Delta

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk], acc *provider.Accumulator) *streamer {
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
			} else {
				s.setErr(proc.Flush())
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

// chunkProcessor converts completion chunks into canonical deltas. Tool call
// fragments arrive keyed by choice-local index; the processor feeds them to
// the accumulator and finalizes on the finish reason, emitting calls in
// index declaration order.
type chunkProcessor struct {
	emit       func(provider.Delta) error
	recordMeta func(string, any)
	acc        *provider.Accumulator

	responseID string
	order      []string
	known      map[string]struct{}
	flushed    bool
}

func newChunkProcessor(emit func(provider.Delta) error, recordMeta func(string, any), acc *provider.Accumulator) *chunkProcessor {
	return &chunkProcessor{
		emit:       emit,
		recordMeta: recordMeta,
		acc:        acc,
		known:      make(map[string]struct{}),
	}
}

func (p *chunkProcessor) Handle(chunk sdk.ChatCompletionChunk) error {
	if p.responseID == "" && chunk.ID != "" {
		p.responseID = chunk.ID
		p.recordMeta("response_id", p.responseID)
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			if err := p.emit(provider.Delta{Type: provider.DeltaText, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			key := fmt.Sprintf("call_%d", tc.Index)
			if _, ok := p.known[key]; !ok {
				p.known[key] = struct{}{}
				p.order = append(p.order, key)
			}
			p.acc.Bind(key, tc.ID, p.responseID)
			p.acc.Feed(key, tc.Function.Name, tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			if err := p.flushCalls(); err != nil {
				return err
			}
			if err := p.emit(provider.Delta{Type: provider.DeltaStop, StopReason: choice.FinishReason}); err != nil {
				return err
			}
		}
	}

	if chunk.Usage.TotalTokens > 0 {
		usage := core.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
		p.recordMeta("usage", usage)
		return p.emit(provider.Delta{Type: provider.DeltaUsage, Usage: &usage})
	}
	return nil
}

// Flush finalizes pending calls at stream end for gateways that close the
// stream without a finish reason.
func (p *chunkProcessor) Flush() error {
	return p.flushCalls()
}

func (p *chunkProcessor) flushCalls() error {
	if p.flushed {
		return nil
	}
	p.flushed = true
	for _, key := range p.order {
		req, _ := p.acc.Finalize(key)
		if err := p.emit(provider.Delta{Type: provider.DeltaToolCall, ToolCall: &req}); err != nil {
			return err
		}
	}
	return nil
}
