package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"toolchat/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient Ollama API client. One client serves every model pulled on
// the server; the model is chosen per request.
type OllamaClient struct {
	client       *api.Client
	baseURL      string
	options      map[string]any
	debugEnabled bool

	capMu sync.Mutex
	caps  map[string]bool
}

// SetDebug toggles raw chunk dumps.
func (o *OllamaClient) SetDebug(enabled bool) {
	o.debugEnabled = enabled
}

// NewOllamaClient creates an Ollama client
func NewOllamaClient(baseURL string, options map[string]any) (*OllamaClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	// Custom Transport to ensure no timeouts are imposed by the client;
	// every call carries its own context deadline instead.
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 0, // Explicitly no timeout
	}

	customClient := &http.Client{
		Transport: &JSONFixingRoundTripper{Proxied: transport},
		Timeout:   0, // Explicitly no timeout
	}

	slog.Info("Ollama client initialized", "base_url", baseURL)

	return &OllamaClient{
		client:  api.NewClient(u, customClient),
		baseURL: baseURL,
		options: options,
		caps:    make(map[string]bool),
	}, nil
}

func (o *OllamaClient) Provider() string {
	return "ollama"
}

// Complete streams one chat turn and aggregates it into a Completion.
// Thinking is kept apart from the answer text.
func (o *OllamaClient) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	ollamaTools, err := convertTools(llm.FunctionTools(req.Tools))
	if err != nil {
		return nil, err
	}

	streamVal := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Options:  o.options,
		Tools:    ollamaTools,
		Stream:   &streamVal,
	}

	debugger := llm.NewStreamDebugger(ctx, o.Provider(), o.debugEnabled)
	defer debugger.Close()

	var (
		text     strings.Builder
		thinking strings.Builder
		calls    []llm.ToolCall
		usage    *llm.Usage
		chunkIdx int
	)

	err = o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chunkIdx++
		debugger.WriteJSON(resp)

		thinking.WriteString(resp.Message.Thinking)
		text.WriteString(resp.Message.Content)

		for _, tc := range resp.Message.ToolCalls {
			argsB, err := json.Marshal(tc.Function.Arguments)
			if err != nil {
				return fmt.Errorf("malformed tool call arguments from %s: %w", req.Model, err)
			}
			args, err := llm.ParseArguments(string(argsB))
			if err != nil {
				return err
			}
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", len(calls))
			}
			calls = append(calls, llm.ToolCall{ID: id, Name: tc.Function.Name, Arguments: args})
			slog.DebugContext(ctx, "Tool call", "provider", "ollama", "name", tc.Function.Name, "args", string(argsB), "id", id)
		}

		if resp.Done {
			usage = &llm.Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				StopReason:       resp.DoneReason,
			}
			if resp.DoneReason == llm.StopReasonLength {
				slog.WarnContext(ctx, "Response truncated due to length", "provider", "ollama", "model", req.Model)
			}
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "Stream error", "provider", "ollama", "model", req.Model, "chunks", chunkIdx, "error", err)
		return nil, o.classify(req.Model, err)
	}
	llm.LogUsage(ctx, o.Provider(), req.Model, usage)

	if len(calls) > 0 {
		return llm.ToolCalls{Calls: calls, Text: text.String(), Usage: usage}, nil
	}
	return llm.FinalAnswer{Text: strings.TrimSpace(text.String()), Thinking: thinking.String(), Usage: usage}, nil
}

// SupportsTools asks the server for the model's capabilities. Answers are
// cached per model; servers too old to report capabilities are trusted.
func (o *OllamaClient) SupportsTools(ctx context.Context, model string) (bool, error) {
	o.capMu.Lock()
	ok, cached := o.caps[model]
	o.capMu.Unlock()
	if cached {
		return ok, nil
	}

	resp, err := o.client.Show(ctx, &api.ShowRequest{Model: model})
	if err != nil {
		return false, fmt.Errorf("failed to query capabilities of %s: %w", model, err)
	}

	ok = len(resp.Capabilities) == 0
	for _, c := range resp.Capabilities {
		if string(c) == "tools" {
			ok = true
			break
		}
	}

	o.capMu.Lock()
	o.caps[model] = ok
	o.capMu.Unlock()
	return ok, nil
}

// ListModels returns the locally pulled models with their tag metadata.
func (o *OllamaClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list models from %s: %w", o.baseURL, err)
	}
	models := make([]llm.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		info := llm.ModelInfo{
			Name:   m.Name,
			Model:  m.Model,
			Size:   m.Size,
			Digest: m.Digest,
			Details: &llm.ModelDetails{
				ParentModel:       m.Details.ParentModel,
				Format:            m.Details.Format,
				Family:            m.Details.Family,
				Families:          m.Details.Families,
				ParameterSize:     m.Details.ParameterSize,
				QuantizationLevel: m.Details.QuantizationLevel,
			},
		}
		if !m.ModifiedAt.IsZero() {
			modified := m.ModifiedAt
			info.ModifiedAt = &modified
		}
		models = append(models, info)
	}
	return models, nil
}

// Passthrough forwards a plain chat turn and hands every raw response
// object to emit, untouched by the agent.
func (o *OllamaClient) Passthrough(ctx context.Context, req llm.PassthroughRequest, emit func([]byte) error) error {
	stream := req.Stream
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: convertMessages(req.Messages),
		Options:  o.options,
		Stream:   &stream,
	}
	err := o.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		b, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		return emit(b)
	})
	if err != nil {
		return o.classify(req.Model, err)
	}
	return nil
}

// classify maps the server's "does not support tools" rejection to
// llm.ErrToolsUnsupported.
func (o *OllamaClient) classify(model string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "does not support tools") {
		return llm.ToolsUnsupported(model)
	}
	return fmt.Errorf("ollama chat with %s failed: %w", model, err)
}

// convertTools converts function declarations to api.Tool
// (using JSON conversion to work around SDK type mismatch issues).
func convertTools(specs []llm.FunctionTool) ([]api.Tool, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	rawB, err := json.Marshal(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tools: %w", err)
	}
	var ollamaTools []api.Tool
	if err := json.Unmarshal(rawB, &ollamaTools); err != nil {
		return nil, fmt.Errorf("failed to unmarshal to api.Tool: %w", err)
	}
	return ollamaTools, nil
}

// convertMessages converts messages to Ollama API format
func convertMessages(messages []llm.Message) []api.Message {
	ollamaMsgs := make([]api.Message, 0, len(messages))

	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var ollamaToolCalls []api.ToolCall
			for _, tc := range m.ToolCalls {
				// api.ToolCallFunctionArguments supports unmarshaling from a JSON object
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.ArgumentsJSON()), &apiArgs); err != nil {
					slog.Warn("Failed to unmarshal to api.ToolCallFunctionArguments", "provider", "ollama", "error", err)
				}
				ollamaToolCalls = append(ollamaToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: apiArgs,
					},
				})
			}
			msg.ToolCalls = ollamaToolCalls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.ToolName = m.ToolName
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// IsTransientError implements the llm.Client interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= http.StatusInternalServerError {
		return true
	}

	errMsg := strings.ToLower(err.Error())

	// 1. Connection related errors (Connection refused, reset)
	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	// 2. High load
	return strings.Contains(errMsg, "overloaded")
}

//----------------------------------------------------------------
// JSONFixingRoundTripper - Interceptor that fixes illegal JSON escapes
//----------------------------------------------------------------

// JSONFixingRoundTripper intercepts response and fixes illegal escapes (e.g., \$)
type JSONFixingRoundTripper struct {
	Proxied http.RoundTripper
}

func (j *JSONFixingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := j.Proxied.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	// Only filter text-type responses (mainly stream JSON)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(resp.Header.Get("Content-Type"), "application/x-ndjson") {
		resp.Body = &jsonFixingReadCloser{body: resp.Body}
	}
	return resp, nil
}

// jsonFixingReadCloser drops the backslash of escapes JSON does not allow
// (e.g. \$ becomes $). Escaped backslashes are left alone, and a trailing
// backslash is held back until the next Read so chunk boundaries cannot
// split an escape.
type jsonFixingReadCloser struct {
	body    io.ReadCloser
	escaped bool // the last byte seen opened an escape
	buf     []byte
	pending []byte
	err     error
}

func validEscape(c byte) bool {
	switch c {
	case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
		return true
	}
	return false
}

func (j *jsonFixingReadCloser) Read(p []byte) (int, error) {
	if len(j.pending) == 0 {
		if j.err != nil {
			return 0, j.err
		}
		n, err := j.body.Read(p)
		j.buf = j.fix(j.buf[:0], p[:n])
		if err != nil {
			if j.escaped {
				j.buf = append(j.buf, '\\')
				j.escaped = false
			}
			j.err = err
		}
		j.pending = j.buf
	}

	n := copy(p, j.pending)
	j.pending = j.pending[n:]
	if len(j.pending) == 0 && j.err != nil {
		return n, j.err
	}
	return n, nil
}

func (j *jsonFixingReadCloser) fix(dst, src []byte) []byte {
	for _, c := range src {
		switch {
		case j.escaped:
			j.escaped = false
			if validEscape(c) {
				dst = append(dst, '\\')
			}
			dst = append(dst, c)
		case c == '\\':
			j.escaped = true
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

func (j *jsonFixingReadCloser) Close() error {
	return j.body.Close()
}
