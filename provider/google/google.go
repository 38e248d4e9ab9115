// Package google adapts the Gemini API (google.golang.org/genai) to the
// provider contract. Function call arguments arrive whole rather than
// fragmented; they still pass through the accumulator so call ids stabilize
// and tool names normalize the same way as on other providers.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
)

const providerName = "google"

// Options configures the adapter.
type Options struct {
	// Credentials supplies the API key. When nil the SDK falls back to its
	// environment-based default.
	Credentials provider.CredentialProvider
	// DefaultMaxTokens applies when the request does not set MaxTokens.
	DefaultMaxTokens int64
	// Logger receives adapter diagnostics.
	Logger logging.Logger
}

// Adapter implements provider.Adapter for the Gemini API.
type Adapter struct {
	opts Options
}

// New constructs the adapter with optional overrides.
func New(optFns ...func(o *Options)) *Adapter {
	opts := Options{
		DefaultMaxTokens: 4096,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{opts: opts}
}

// Name identifies the provider family.
func (a *Adapter) Name() string { return providerName }

// Stream builds the wire request, opens the generate stream and returns a
// Streamer yielding canonical deltas.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	cfg := &genai.ClientConfig{Backend: genai.BackendGeminiAPI}
	if a.opts.Credentials != nil {
		token, err := provider.ResolveCredential(ctx, a.opts.Credentials, providerName)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = token
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &provider.NetworkError{
			Provider:  providerName,
			Message:   fmt.Sprintf("client init failed: %v", err),
			Retryable: false,
			Cause:     err,
		}
	}

	contents := buildContents(req.History)
	config := a.buildConfig(req)

	a.opts.Logger.Debug("google.stream.open", "model", req.Model, "tools", len(req.Tools))

	it := client.Models.GenerateContentStream(ctx, req.Model, contents, config)
	acc := provider.NewAccumulator(toolNames(req.Tools))
	return newStreamer(ctx, it, acc), nil
}

func (a *Adapter) buildConfig(req provider.Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.DefaultMaxTokens
	}
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return config
}

// buildContents converts the canonical history into Gemini contents.
func buildContents(history []core.ConversationItem) []*genai.Content {
	var contents []*genai.Content
	for _, item := range history {
		switch m := item.(type) {
		case core.UserMessage:
			if parts := buildUserParts(m.Parts); len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
			}
		case core.AssistantMessage:
			if parts := buildModelParts(m.Parts); len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}
		case core.ToolResultMessage:
			response := map[string]any{"output": m.OutputText}
			if m.Status != core.ToolResultSuccess {
				response = map[string]any{"error": m.OutputText, "status": string(m.Status)}
			}
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{genai.NewPartFromFunctionResponse(m.ToolName, response)},
			})
		}
	}
	return contents
}

func buildUserParts(parts []core.Part) []*genai.Part {
	var out []*genai.Part
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				out = append(out, genai.NewPartFromText(part.Text))
			}
		case core.ImagePart:
			if part.Ref != "" {
				out = append(out, genai.NewPartFromURI(part.Ref, "image/png"))
			}
		}
	}
	return out
}

// buildModelParts re-encodes a finalized assistant message. Thinking text
// with a confirmed signature round-trips as a thought part; the signature
// is the base64 form of the provider's thought signature bytes.
func buildModelParts(parts []core.Part) []*genai.Part {
	var out []*genai.Part
	var pendingThought *genai.Part

	for _, p := range parts {
		switch part := p.(type) {
		case core.ThinkingTextPart:
			pendingThought = &genai.Part{Text: part.Text, Thought: true}
		case core.ThinkingSignaturePart:
			if pendingThought != nil {
				if sig, err := base64.StdEncoding.DecodeString(part.Signature); err == nil {
					pendingThought.ThoughtSignature = sig
					out = append(out, pendingThought)
				}
				pendingThought = nil
			}
		case core.TextPart:
			pendingThought = nil
			if part.Text != "" {
				out = append(out, genai.NewPartFromText(part.Text))
			}
		case core.ToolCallPart:
			pendingThought = nil
			args := map[string]any{}
			_ = json.Unmarshal([]byte(part.ArgumentsJSON), &args)
			out = append(out, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   part.CallID,
				Name: part.ToolName,
				Args: args,
			}})
		}
	}
	return out
}

func toolNames(tools []provider.ToolSchema) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

func classifyStreamErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(providerName, apiErr.Code, apiErr.Message)
	}
	return &provider.NetworkError{
		Provider:  providerName,
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: true,
		Cause:     err,
	}
}
