// Package anthropic adapts the Anthropic Messages API to the provider
// contract, including streamed thinking blocks with continuation signatures
// and fragmented tool-use input.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
)

const providerName = "anthropic"

// Options configures the adapter.
type Options struct {
	// Credentials supplies the API key. When nil the SDK falls back to its
	// environment-based default.
	Credentials provider.CredentialProvider
	// BaseURL overrides the API endpoint.
	BaseURL string
	// DefaultMaxTokens applies when the request does not set MaxTokens.
	DefaultMaxTokens int64
	// ThinkingBudgetTokens enables extended thinking when >= 1024.
	ThinkingBudgetTokens int64
	// Logger receives adapter diagnostics.
	Logger logging.Logger
}

// Adapter implements provider.Adapter for the Anthropic Messages API.
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

// Stream builds the wire request, opens the Messages stream and returns a
// Streamer yielding canonical deltas.
func (a *Adapter) Stream(ctx context.Context, req provider.Request) (provider.Streamer, error) {
	var clientOpts []option.RequestOption
	if a.opts.Credentials != nil {
		token, err := provider.ResolveCredential(ctx, a.opts.Credentials, providerName)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, option.WithAPIKey(token))
	}
	if a.opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(a.opts.BaseURL))
	}
	client := sdk.NewClient(clientOpts...)

	params, err := a.buildParams(req)
	if err != nil {
		return nil, err
	}

	a.opts.Logger.Debug("anthropic.stream.open", "model", req.Model, "tools", len(req.Tools))

	stream := client.Messages.NewStreaming(ctx, params)
	acc := provider.NewAccumulator(toolNames(req.Tools))
	return newStreamer(ctx, stream, acc), nil
}

// buildParams is the pure request translation: canonical history in,
// provider wire shapes out.
func (a *Adapter) buildParams(req provider.Request) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.DefaultMaxTokens
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.History),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}
	if a.opts.ThinkingBudgetTokens >= 1024 && a.opts.ThinkingBudgetTokens < maxTokens {
		params.Thinking = sdk.ThinkingConfigParamOfEnabled(a.opts.ThinkingBudgetTokens)
	}
	return params, nil
}

// buildMessages converts the canonical history into Anthropic messages.
// Consecutive tool results collapse into a single user message so each
// tool_use block is answered by the immediately following tool_result.
func buildMessages(history []core.ConversationItem) []sdk.MessageParam {
	var messages []sdk.MessageParam
	var pendingResults []sdk.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, sdk.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, item := range history {
		switch m := item.(type) {
		case core.UserMessage:
			flushResults()
			if blocks := buildUserBlocks(m.Parts); len(blocks) > 0 {
				messages = append(messages, sdk.NewUserMessage(blocks...))
			}
		case core.AssistantMessage:
			flushResults()
			if blocks := buildAssistantBlocks(m.Parts); len(blocks) > 0 {
				messages = append(messages, sdk.NewAssistantMessage(blocks...))
			}
		case core.ToolResultMessage:
			pendingResults = append(pendingResults, sdk.NewToolResultBlock(
				m.CallID, m.OutputText, m.Status != core.ToolResultSuccess))
		}
	}
	flushResults()
	return messages
}

func buildUserBlocks(parts []core.Part) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(part.Text))
			}
		case core.ImagePart:
			if part.Ref != "" {
				blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: part.Ref}))
			}
		}
	}
	return blocks
}

// buildAssistantBlocks re-encodes a finalized assistant message. A thinking
// text part pairs with the signature part that follows it; the signature is
// echoed byte for byte. Unsigned thinking text never appears in history (the
// engine degrades it to plain text on interrupt) and is skipped defensively.
func buildAssistantBlocks(parts []core.Part) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	var pendingThinking *core.ThinkingTextPart

	for _, p := range parts {
		switch part := p.(type) {
		case core.ThinkingTextPart:
			cp := part
			pendingThinking = &cp
		case core.ThinkingSignaturePart:
			if pendingThinking != nil {
				blocks = append(blocks, sdk.NewThinkingBlock(part.Signature, pendingThinking.Text))
				pendingThinking = nil
			}
		case core.TextPart:
			pendingThinking = nil
			if part.Text != "" {
				blocks = append(blocks, sdk.NewTextBlock(part.Text))
			}
		case core.ToolCallPart:
			pendingThinking = nil
			blocks = append(blocks, sdk.NewToolUseBlock(part.CallID, toolInput(part.ArgumentsJSON), part.ToolName))
		}
	}
	return blocks
}

func toolInput(argumentsJSON string) any {
	if argumentsJSON == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(argumentsJSON)) {
		return json.RawMessage(argumentsJSON)
	}
	return map[string]any{"raw": argumentsJSON}
}

func buildTools(tools []provider.ToolSchema) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := sdk.ToolInputSchemaParam{Type: constant.Object("object")}
		if t.Parameters != nil {
			if props, ok := t.Parameters["properties"]; ok {
				schema.Properties = props
			}
			schema.Required = requiredNames(t.Parameters["required"])
		}
		param := sdk.ToolParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			InputSchema: schema,
		}
		out = append(out, sdk.ToolUnionParam{OfTool: &param})
	}
	return out
}

func requiredNames(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		var names []string
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

func toolNames(tools []provider.ToolSchema) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// classifyStreamErr maps SDK errors into the shared taxonomy.
func classifyStreamErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return provider.ClassifyStatus(providerName, apiErr.StatusCode, apiErr.Error())
	}
	return &provider.NetworkError{
		Provider:  providerName,
		Message:   fmt.Sprintf("stream failed: %v", err),
		Retryable: true,
		Cause:     err,
	}
}
