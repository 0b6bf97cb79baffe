package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"toolchat/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// Client is a wrapper around the official OpenAI Go SDK (Responses API).
// It also serves OpenAI-compatible endpoints such as Ollama's /v1.
type Client struct {
	client        *openai.Client
	provider      string
	debugEnabled  bool
	supportsTools bool
	options       map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, baseURL string, options map[string]any) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// A failed model call fails the run; the caller starts a fresh one.
		option.WithMaxRetries(0),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	supportsTools := true
	if v, ok := options["supports_tools"].(bool); ok {
		supportsTools = v
	}

	return &Client{
		client:        &client,
		provider:      provider,
		supportsTools: supportsTools,
		options:       options,
	}, nil
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) SetDebug(enabled bool) {
	c.debugEnabled = enabled
}

// SupportsTools is static per provider group ("supports_tools" option).
func (c *Client) SupportsTools(_ context.Context, _ string) (bool, error) {
	return c.supportsTools, nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

// pendingCall accumulates one streamed function call.
type pendingCall struct {
	callID string
	name   string
	args   strings.Builder
	done   string // final arguments, if the done event carried them
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.Messages),
		},
	}

	opts := []option.RequestOption{}

	// Handle unified "thinking_effort" option
	if effortStr, ok := c.options["thinking_effort"].(string); ok && effortStr != "" && effortStr != "off" {
		var effort shared.ReasoningEffort
		switch effortStr {
		case "low":
			effort = shared.ReasoningEffortLow
		case "high":
			effort = shared.ReasoningEffortHigh
		default:
			effort = shared.ReasoningEffortMedium
		}
		params.Reasoning = shared.ReasoningParam{
			Effort: effort,
		}
	}

	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_output_tokens", int(maxTok)))
	}

	if tools := convertTools(llm.FunctionTools(req.Tools)); len(tools) > 0 {
		params.Tools = tools
	}

	stream := c.client.Responses.NewStreaming(ctx, params, opts...)
	defer stream.Close()

	debugger := llm.NewStreamDebugger(ctx, c.provider, c.debugEnabled)
	defer debugger.Close()

	var (
		text     strings.Builder
		thinking strings.Builder
		usage    *llm.Usage
		order    []string
		pending  = make(map[string]*pendingCall)
	)
	callFor := func(itemID string) *pendingCall {
		pc, ok := pending[itemID]
		if !ok {
			pc = &pendingCall{}
			pending[itemID] = pc
			order = append(order, itemID)
		}
		return pc
	}

	for stream.Next() {
		event := stream.Current()
		debugger.WriteString(event.RawJSON())

		switch variant := event.AsAny().(type) {
		case responses.ResponseTextDeltaEvent:
			text.WriteString(variant.Delta)

		case responses.ResponseReasoningTextDeltaEvent:
			thinking.WriteString(variant.Delta)

		case responses.ResponseReasoningSummaryTextDeltaEvent:
			thinking.WriteString(variant.Delta)

		case responses.ResponseOutputItemAddedEvent:
			if variant.Item.Type == "function_call" {
				pc := callFor(variant.Item.ID)
				pc.callID = variant.Item.CallID
				if variant.Item.Name != "" {
					pc.name = variant.Item.Name
				}
			}

		case responses.ResponseFunctionCallArgumentsDeltaEvent:
			callFor(variant.ItemID).args.WriteString(variant.Delta)

		case responses.ResponseFunctionCallArgumentsDoneEvent:
			pc := callFor(variant.ItemID)
			pc.done = variant.Arguments
			if variant.Name != "" {
				pc.name = variant.Name
			}

		case responses.ResponseOutputItemDoneEvent:
			// Ensure name is captured even if late
			if variant.Item.Type == "function_call" {
				pc := callFor(variant.Item.ID)
				if variant.Item.Name != "" {
					pc.name = variant.Item.Name
				}
				if pc.callID == "" {
					pc.callID = variant.Item.CallID
				}
			}

		case responses.ResponseCompletedEvent:
			usage = &llm.Usage{
				PromptTokens:     int(variant.Response.Usage.InputTokens),
				CompletionTokens: int(variant.Response.Usage.OutputTokens),
				TotalTokens:      int(variant.Response.Usage.TotalTokens),
				StopReason:       llm.StopReasonStop,
			}

		case responses.ResponseIncompleteEvent:
			slog.WarnContext(ctx, "Response truncated", "provider", c.provider, "model", req.Model)
			usage = &llm.Usage{StopReason: llm.StopReasonLength}

		case responses.ResponseFailedEvent:
			return nil, fmt.Errorf("%s response for %s failed", c.provider, req.Model)

		case responses.ResponseErrorEvent:
			return nil, c.classify(req.Model, fmt.Errorf("API error: %s", variant.Message))
		}
	}
	if err := stream.Err(); err != nil {
		slog.ErrorContext(ctx, "Stream error", "provider", c.provider, "model", req.Model, "error", err)
		return nil, c.classify(req.Model, err)
	}
	llm.LogUsage(ctx, c.provider, req.Model, usage)

	if len(order) > 0 {
		calls := make([]llm.ToolCall, 0, len(order))
		for _, itemID := range order {
			pc := pending[itemID]
			raw := pc.done
			if raw == "" {
				raw = pc.args.String()
			}
			args, err := llm.ParseArguments(raw)
			if err != nil {
				return nil, fmt.Errorf("%s returned %w", req.Model, err)
			}
			id := pc.callID
			if id == "" {
				id = itemID
			}
			calls = append(calls, llm.ToolCall{ID: id, Name: pc.name, Arguments: args})
		}
		return llm.ToolCalls{Calls: calls, Text: text.String(), Usage: usage}, nil
	}
	return llm.FinalAnswer{Text: strings.TrimSpace(text.String()), Thinking: thinking.String(), Usage: usage}, nil
}

// classify maps a "does not support tools" rejection to llm.ErrToolsUnsupported.
func (c *Client) classify(model string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "does not support tools") {
		return llm.ToolsUnsupported(model)
	}
	return fmt.Errorf("%s completion with %s failed: %w", c.provider, model, err)
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.Content,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.ArgumentsJSON(),
					tc.ID,
					tc.Name,
				))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.Content,
			))
		}
	}

	return items
}

func convertTools(specs []llm.FunctionTool) []responses.ToolUnionParam {
	var tools []responses.ToolUnionParam
	for _, t := range specs {
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Function.Name,
				Description: openai.String(t.Function.Description),
				Parameters:  llm.SchemaMap(t.Function.Parameters),
			},
		})
	}
	return tools
}
