package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sync"

	"google.golang.org/genai"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/provider"
)

// streamer adapts a Gemini generate stream to provider.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	it     iter.Seq2[*genai.GenerateContentResponse, error]

	deltas chan provider.Delta

	errMu    sync.Mutex
	errSet   bool
	finalErr error

	metaMu   sync.RWMutex
	metadata map[string]any
}

func newStreamer(ctx context.Context, it iter.Seq2[*genai.GenerateContentResponse, error], acc *provider.Accumulator) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		it:     it,
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

// Close stops consumption. Safe to call more than once.
func (s *streamer) Close() error {
	s.cancel()
	return nil
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

	proc := newChunkProcessor(s.emit, s.recordMeta, acc)

	for resp, err := range s.it {
		if cerr := s.ctx.Err(); cerr != nil {
			s.setErr(cerr)
			return
		}
		if err != nil {
			s.setErr(classifyStreamErr(err))
			return
		}
		if perr := proc.Handle(resp); perr != nil {
			s.setErr(perr)
			return
		}
	}
	if err := s.ctx.Err(); err != nil {
		s.setErr(err)
		return
	}
	if err := proc.Finish(); err != nil {
		s.setErr(err)
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

// chunkProcessor converts generate responses into canonical deltas. Gemini
// delivers function calls whole within a single chunk; arguments are
// re-marshaled to JSON, fed to the accumulator under a synthetic block key
// and finalized immediately.
type chunkProcessor struct {
	emit       func(provider.Delta) error
	recordMeta func(string, any)
	acc        *provider.Accumulator

	responseID string
	stopReason string
	usage      *core.Usage
	callSeq    int
}

func newChunkProcessor(emit func(provider.Delta) error, recordMeta func(string, any), acc *provider.Accumulator) *chunkProcessor {
	return &chunkProcessor{emit: emit, recordMeta: recordMeta, acc: acc}
}

func (p *chunkProcessor) Handle(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if resp.ResponseID != "" && p.responseID == "" {
		p.responseID = resp.ResponseID
		p.recordMeta("response_id", resp.ResponseID)
	}
	if resp.UsageMetadata != nil {
		p.usage = &core.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		p.stopReason = string(cand.FinishReason)
	}
	if cand.Content == nil {
		return nil
	}
	for _, part := range cand.Content.Parts {
		if err := p.handlePart(part); err != nil {
			return err
		}
	}
	return nil
}

func (p *chunkProcessor) handlePart(part *genai.Part) error {
	if part == nil {
		return nil
	}
	if part.FunctionCall != nil {
		return p.handleFunctionCall(part.FunctionCall)
	}
	if len(part.ThoughtSignature) > 0 {
		sig := base64.StdEncoding.EncodeToString(part.ThoughtSignature)
		if part.Thought && part.Text != "" {
			if err := p.emit(provider.Delta{Type: provider.DeltaThinking, Text: part.Text}); err != nil {
				return err
			}
		}
		return p.emit(provider.Delta{Type: provider.DeltaSignature, Signature: sig})
	}
	if part.Thought {
		if part.Text == "" {
			return nil
		}
		return p.emit(provider.Delta{Type: provider.DeltaThinking, Text: part.Text})
	}
	if part.Text != "" {
		return p.emit(provider.Delta{Type: provider.DeltaText, Text: part.Text})
	}
	return nil
}

func (p *chunkProcessor) handleFunctionCall(fc *genai.FunctionCall) error {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		return &provider.ProtocolDecodeError{
			Provider: providerName,
			Message:  "function call arguments not representable as JSON",
			Cause:    err,
		}
	}
	callID := fc.ID
	if callID == "" {
		callID = core.NewID()
	}
	key := blockKey(p.callSeq)
	p.callSeq++
	p.acc.Bind(key, callID, p.responseID)
	p.acc.Feed(key, fc.Name, string(args))
	// Arguments arrived whole; a finalize error still yields a request the
	// tool layer reports as an error result.
	req, _ := p.acc.Finalize(key)
	return p.emit(provider.Delta{Type: provider.DeltaToolCall, ToolCall: &req})
}

// Finish emits the trailing usage and stop deltas once the iterator drains.
func (p *chunkProcessor) Finish() error {
	if p.usage != nil {
		p.recordMeta("usage", *p.usage)
		if err := p.emit(provider.Delta{Type: provider.DeltaUsage, Usage: p.usage}); err != nil {
			return err
		}
	}
	stop := p.stopReason
	if stop == "" {
		stop = "stop"
	}
	return p.emit(provider.Delta{Type: provider.DeltaStop, StopReason: stop})
}

func blockKey(i int) string {
	return fmt.Sprintf("fc_%d", i)
}
