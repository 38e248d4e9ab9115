// Package openai adapts the OpenAI Chat Completions API (streaming with
// function/tool calling) to the provider contract. Reasoning continuation is
// not resumable on this protocol, so thinking parts from history degrade to
// plain text blocks and signatures are omitted.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/turnkit/turnkit/core"
	"github.com/turnkit/turnkit/logging"
	"github.com/turnkit/turnkit/provider"
)

const providerName = "openai"

// Options configures the adapter.
type Options struct {
	// Credentials supplies the API key. When nil the SDK falls back to its
	// environment-based default.
	Credentials provider.CredentialProvider
	// BaseURL overrides the API endpoint (proxies, compatible gateways).
	BaseURL string
	// DefaultMaxTokens applies when the request does not set MaxTokens.
	DefaultMaxTokens int64
	// Logger receives adapter diagnostics.
	Logger logging.Logger
}

// Adapter implements provider.Adapter for the Chat Completions API.
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

// Stream builds the wire request, opens the completion stream and returns a
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

	params := a.buildParams(req)

	a.opts.Logger.Debug("openai.stream.open", "model", req.Model, "tools", len(req.Tools))

	stream := client.Chat.Completions.NewStreaming(ctx, params)
	acc := provider.NewAccumulator(toolNames(req.Tools))
	return newStreamer(ctx, stream, acc), nil
}

func (a *Adapter) buildParams(req provider.Request) sdk.ChatCompletionNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.DefaultMaxTokens
	}
	params := sdk.ChatCompletionNewParams{
		Model:               sdk.ChatModel(req.Model),
		Messages:            buildMessages(req.System, req.History),
		MaxCompletionTokens: sdk.Int(maxTokens),
		StreamOptions:       sdk.ChatCompletionStreamOptionsParam{IncludeUsage: sdk.Bool(true)},
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ChatCompletionToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = sdk.ChatCompletionToolParam{
				Function: sdk.FunctionDefinitionParam{
					Name:        t.Name,
					Description: sdk.String(t.Description),
					Parameters:  t.Parameters,
				},
			}
		}
		params.Tools = tools
	}
	return params
}

// buildMessages converts the canonical history into chat messages. Tool
// results follow their assistant message in history order, which is the
// pairing this API requires.
func buildMessages(system string, history []core.ConversationItem) []sdk.ChatCompletionMessageParamUnion {
	var messages []sdk.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, sdk.SystemMessage(system))
	}

	for _, item := range history {
		switch m := item.(type) {
		case core.UserMessage:
			if msg, ok := buildUserMessage(m.Parts); ok {
				messages = append(messages, msg)
			}
		case core.AssistantMessage:
			messages = append(messages, buildAssistantMessage(m))
		case core.ToolResultMessage:
			messages = append(messages, sdk.ToolMessage(m.OutputText, m.CallID))
		}
	}
	return messages
}

func buildUserMessage(parts []core.Part) (sdk.ChatCompletionMessageParamUnion, bool) {
	var content []sdk.ChatCompletionContentPartUnionParam
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, sdk.TextContentPart(part.Text))
			}
		case core.ImagePart:
			if part.Ref != "" {
				content = append(content, sdk.ImageContentPart(sdk.ChatCompletionContentPartImageImageURLParam{URL: part.Ref}))
			}
		}
	}
	if len(content) == 0 {
		return sdk.ChatCompletionMessageParamUnion{}, false
	}
	return sdk.UserMessage(content), true
}

func buildAssistantMessage(m core.AssistantMessage) sdk.ChatCompletionMessageParamUnion {
	var text strings.Builder
	var toolCalls []sdk.ChatCompletionMessageToolCallParam

	for _, p := range m.Parts {
		switch part := p.(type) {
		case core.TextPart:
			text.WriteString(part.Text)
		case core.ThinkingTextPart:
			// Signatures cannot round-trip here; keep the reasoning visible
			// as plain text instead of dropping it.
			text.WriteString("<thinking>" + part.Text + "</thinking>")
		case core.ToolCallPart:
			toolCalls = append(toolCalls, sdk.ChatCompletionMessageToolCallParam{
				ID: part.CallID,
				Function: sdk.ChatCompletionMessageToolCallFunctionParam{
					Name:      part.ToolName,
					Arguments: part.ArgumentsJSON,
				},
			})
		}
	}

	if len(toolCalls) == 0 {
		return sdk.AssistantMessage(text.String())
	}
	assistant := sdk.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
	if text.Len() > 0 {
		assistant.Content = sdk.ChatCompletionAssistantMessageParamContentUnion{OfString: sdk.String(text.String())}
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
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
