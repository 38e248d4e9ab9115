package openairesp

import (
	"context"
	"io"
	"sync"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// streamer adapts a Responses API event stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[responses.ResponseStreamEventUnion]

	deltas chan provider.Delta

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[responses.ResponseStreamEventUnion], acc *provider.Accumulator) *streamer {
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

	proc := newEventProcessor(s.emit, s.recordMeta, acc)

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

// eventProcessor converts Responses API events into canonical deltas.
// Function call items stream as an added item followed by argument deltas;
// fragments feed the accumulator keyed by the provider item id and finalize
// when the item completes.
type eventProcessor struct {
	emit       func(provider.Delta) error
	recordMeta func(string, any)
	acc        *provider.Accumulator

	calls map[string]struct{}
	done  map[string]struct{}
}

func newEventProcessor(emit func(provider.Delta) error, recordMeta func(string, any), acc *provider.Accumulator) *eventProcessor {
	return &eventProcessor{
		emit:       emit,
		recordMeta: recordMeta,
		acc:        acc,
		calls:      make(map[string]struct{}),
		done:       make(map[string]struct{}),
	}
}

func (p *eventProcessor) Handle(event responses.ResponseStreamEventUnion) error {
	switch event.Type {
	case "response.output_text.delta":
		if text := event.Delta.OfString; text != "" {
			return p.emit(provider.Delta{Type: provider.DeltaText, Text: text})
		}
		return nil

	case "response.output_item.added":
		item := event.Item
		if item.Type != "function_call" || item.ID == "" {
			return nil
		}
		p.calls[item.ID] = struct{}{}
		p.acc.Bind(item.ID, item.CallID, "")
		p.acc.Feed(item.ID, item.Name, item.Arguments)
		return nil

	case "response.function_call_arguments.delta":
		if _, ok := p.calls[event.ItemID]; !ok {
			return nil
		}
		if delta := event.Delta.OfString; delta != "" {
			p.acc.Feed(event.ItemID, "", delta)
		}
		return nil

	case "response.output_item.done":
		item := event.Item
		if item.Type != "function_call" || item.ID == "" {
			return nil
		}
		if _, already := p.done[item.ID]; already {
			return nil
		}
		p.done[item.ID] = struct{}{}
		p.acc.Bind(item.ID, item.CallID, "")
		// A finalize error means truncated argument JSON; the request is
		// still emitted and the tool layer reports it as an error result.
		req, _ := p.acc.Finalize(item.ID)
		return p.emit(provider.Delta{Type: provider.DeltaToolCall, ToolCall: &req})

	case "response.completed":
		resp := event.Response
		if resp.ID != "" {
			p.recordMeta("response_id", resp.ID)
		}
		usage := core.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
			TotalTokens:  int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
		p.recordMeta("usage", usage)
		if err := p.emit(provider.Delta{Type: provider.DeltaUsage, Usage: &usage}); err != nil {
			return err
		}
		return p.emit(provider.Delta{Type: provider.DeltaStop, StopReason: string(resp.Status)})
	}
	return nil
}
