// Package openairesp adapts the OpenAI Responses API to the provider
// contract. The Responses API keeps conversation state server-side: when the
// request carries the previous response id, only history items produced
// after that response are sent.
package openairesp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

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
	// BaseURL overrides the API endpoint.
	BaseURL string
	// DefaultMaxTokens applies when the request does not set MaxTokens.
	DefaultMaxTokens int64
	// StrictToolSchema requests strict function calling.
	StrictToolSchema bool
	// Logger receives adapter diagnostics.
	Logger logging.Logger
}

// Adapter implements provider.Adapter for the Responses API.
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
func (a *Adapter) Name() string { return "openai-responses" }

// Stream builds the wire request, opens the response stream and returns a
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

	a.opts.Logger.Debug("openairesp.stream.open",
		"model", req.Model, "tools", len(req.Tools), "previous_response_id", req.LastResponseID)

	stream := client.Responses.NewStreaming(ctx, params)
	acc := provider.NewAccumulator(toolNames(req.Tools))
	return newStreamer(ctx, stream, acc), nil
}

func (a *Adapter) buildParams(req provider.Request) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.opts.DefaultMaxTokens
	}
	params := responses.ResponseNewParams{
		Model:           shared.ResponsesModel(req.Model),
		MaxOutputTokens: sdk.Int(maxTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfInputItemList: buildInput(req.History, req.LastResponseID)},
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.System != "" {
		params.Instructions = sdk.String(req.System)
	}
	if req.LastResponseID != "" {
		params.PreviousResponseID = sdk.String(req.LastResponseID)
	}
	if len(req.Tools) > 0 {
		tools := make([]responses.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, responses.ToolParamOfFunction(t.Name, t.Parameters, a.opts.StrictToolSchema))
		}
		params.Tools = tools
	}
	return params
}

// buildInput converts the canonical history into response input items. When
// lastResponseID matches an assistant message, everything up to and
// including it lives server-side and only later items are sent.
func buildInput(history []core.ConversationItem, lastResponseID string) responses.ResponseInputParam {
	if lastResponseID != "" {
		for i := len(history) - 1; i >= 0; i-- {
			if m, ok := history[i].(core.AssistantMessage); ok && m.ResponseID == lastResponseID {
				history = history[i+1:]
				break
			}
		}
	}

	items := make(responses.ResponseInputParam, 0, len(history))
	for _, item := range history {
		switch m := item.(type) {
		case core.UserMessage:
			if content := buildUserContent(m.Parts); len(content) > 0 {
				items = append(items, responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser))
			}
		case core.AssistantMessage:
			items = append(items, buildAssistantItems(m)...)
		case core.ToolResultMessage:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(m.CallID, m.OutputText))
		}
	}
	return items
}

func buildUserContent(parts []core.Part) responses.ResponseInputMessageContentListParam {
	var content responses.ResponseInputMessageContentListParam
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			if part.Text != "" {
				content = append(content, responses.ResponseInputContentUnionParam{
					OfInputText: &responses.ResponseInputTextParam{Text: part.Text},
				})
			}
		case core.ImagePart:
			if part.Ref != "" {
				content = append(content, responses.ResponseInputContentUnionParam{
					OfInputImage: &responses.ResponseInputImageParam{
						Detail:   responses.ResponseInputImageDetailAuto,
						ImageURL: sdk.String(part.Ref),
					},
				})
			}
		}
	}
	return content
}

func buildAssistantItems(m core.AssistantMessage) responses.ResponseInputParam {
	var items responses.ResponseInputParam
	var text strings.Builder

	flushText := func() {
		if text.Len() > 0 {
			items = append(items, responses.ResponseInputItemParamOfMessage(text.String(), responses.EasyInputMessageRoleAssistant))
			text.Reset()
		}
	}

	for _, p := range m.Parts {
		switch part := p.(type) {
		case core.TextPart:
			text.WriteString(part.Text)
		case core.ThinkingTextPart:
			// Signatures cannot round-trip here; keep the reasoning visible
			// as plain text instead of dropping it.
			text.WriteString("<thinking>" + part.Text + "</thinking>")
		case core.ToolCallPart:
			flushText()
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(part.ArgumentsJSON, part.CallID, part.ToolName))
		}
	}
	flushText()
	return items
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
