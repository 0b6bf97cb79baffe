package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"toolchat/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaFunctionCall keeps the original part so thought signatures survive
// the round trip through the agent.
const metaFunctionCall = "gemini_function_call"

// GeminiClient Google Gemini API client. Multiple API keys are used in
// rotation, one per request.
type GeminiClient struct {
	clients      []*genai.Client
	next         atomic.Uint32
	useThought   bool
	debugEnabled bool
}

// SetDebug toggles raw chunk dumps.
func (g *GeminiClient) SetDebug(enabled bool) {
	g.debugEnabled = enabled
}

// NewGeminiClient creates a Gemini client for the given API keys.
// baseURL is only set in tests.
func NewGeminiClient(ctx context.Context, apiKeys []string, baseURL string, useThought bool) (*GeminiClient, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("gemini requires at least one api key")
	}
	g := &GeminiClient{useThought: useThought}
	for _, key := range apiKeys {
		cfg := &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		}
		if baseURL != "" {
			cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		g.clients = append(g.clients, client)
	}
	return g, nil
}

func (g *GeminiClient) Provider() string {
	return "gemini"
}

// SupportsTools is always true; every Gemini chat model accepts function
// declarations.
func (g *GeminiClient) SupportsTools(context.Context, string) (bool, error) {
	return true, nil
}

func (g *GeminiClient) pick() *genai.Client {
	n := g.next.Add(1) - 1
	return g.clients[int(n)%len(g.clients)]
}

// Complete implements llm.Client
func (g *GeminiClient) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	contents, systemInstruction := convertMessages(req.Messages)

	var thinkingCfg *genai.ThinkingConfig
	if g.useThought {
		thinkingCfg = &genai.ThinkingConfig{
			IncludeThoughts: true,
		}
	}

	debugger := llm.NewStreamDebugger(ctx, g.Provider(), g.debugEnabled)
	defer debugger.Close()

	iter := g.pick().Models.GenerateContentStream(ctx, req.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Tools:             convertTools(req),
		ThinkingConfig:    thinkingCfg,
	})

	var (
		text     strings.Builder
		thinking strings.Builder
		calls    []llm.ToolCall
		usage    *llm.Usage
	)

	for resp, err := range iter {
		if err != nil {
			slog.ErrorContext(ctx, "Stream error", "provider", "gemini", "model", req.Model, "error", err)
			return nil, fmt.Errorf("gemini completion with %s failed: %w", req.Model, err)
		}
		debugger.WriteJSON(resp)

		if u := resp.UsageMetadata; u != nil {
			usage = &llm.Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
				ThoughtsTokens:   int(u.ThoughtsTokenCount),
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate.FinishReason != "" && usage != nil {
				usage.StopReason = string(candidate.FinishReason)
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					if part.Thought {
						thinking.WriteString(part.Text)
					} else {
						text.WriteString(part.Text)
					}
				}
				if part.FunctionCall != nil {
					id := part.FunctionCall.ID
					if id == "" {
						id = fmt.Sprintf("call_%d", len(calls))
					}
					args := part.FunctionCall.Args
					if args == nil {
						args = map[string]any{}
					}
					calls = append(calls, llm.ToolCall{
						ID:        id,
						Name:      part.FunctionCall.Name,
						Arguments: args,
						Meta:      map[string]any{metaFunctionCall: part},
					})
					slog.DebugContext(ctx, "Tool call", "provider", "gemini", "name", part.FunctionCall.Name, "id", id)
				}
			}
		}
	}
	llm.LogUsage(ctx, g.Provider(), req.Model, usage)

	if len(calls) > 0 {
		return llm.ToolCalls{Calls: calls, Text: text.String(), Usage: usage}, nil
	}
	return llm.FinalAnswer{Text: strings.TrimSpace(text.String()), Thinking: thinking.String(), Usage: usage}, nil
}

// convertTools builds function declarations; schemas go through JSON
// since genai.Schema mirrors the JSON-schema layout.
func convertTools(req llm.Request) []*genai.Tool {
	if len(req.Tools) == 0 {
		return nil
	}
	fds := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
	for _, spec := range req.Tools {
		fd := &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
		}
		schemaB, err := json.Marshal(spec.Parameters)
		if err == nil {
			var schema genai.Schema
			if err := json.Unmarshal(schemaB, &schema); err == nil {
				fd.Parameters = &schema
			}
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// convertMessages converts message list to GenAI format
func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var genaiContents []*genai.Content
	var systemInstruction *genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if msg.Content != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: msg.Content}}}
			}

		case llm.RoleTool:
			// Tool results are part of user role in Gemini
			genaiContents = append(genaiContents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolName,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})

		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				// Use original part if available (includes thought_signature)
				if original, ok := tc.Meta[metaFunctionCall].(*genai.Part); ok {
					parts = append(parts, original)
					continue
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Name,
						Args: tc.Arguments,
					},
				})
			}
			if len(parts) > 0 {
				genaiContents = append(genaiContents, &genai.Content{Role: "model", Parts: parts})
			}

		default:
			if msg.Content != "" {
				genaiContents = append(genaiContents, &genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: msg.Content}},
				})
			}
		}
	}

	return genaiContents, systemInstruction
}

// IsTransientError implements the llm.Client interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())

	// 1. Google API common 503 Service Unavailable / Overloaded
	if strings.Contains(errMsg, "503") || strings.Contains(errMsg, "overloaded") {
		return true
	}

	// 2. 429 Too Many Requests (Rate Limit)
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted") {
		return true
	}

	// 3. 500 Internal Error (Occasional Google Gemini crashes)
	return strings.Contains(errMsg, "500") || strings.Contains(errMsg, "internal error")
}
