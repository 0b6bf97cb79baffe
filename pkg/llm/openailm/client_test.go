package openailm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	"toolchat/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, status int, events ...string) (*httptest.Server, *atomic.Pointer[string]) {
	t.Helper()
	var body atomic.Pointer[string]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		sent := string(b)
		body.Store(&sent)
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			io.WriteString(w, events[0])
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			typ := e[strings.Index(e, `"type":"`)+8:]
			typ = typ[:strings.Index(typ, `"`)]
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ, e)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &body
}

func newTestClient(t *testing.T, srv *httptest.Server, options map[string]any) *Client {
	t.Helper()
	c, err := NewClient("openai", "test-key", srv.URL+"/v1/", options)
	require.NoError(t, err)
	return c
}

func TestCompleteText(t *testing.T) {
	srv, body := sseServer(t, http.StatusOK,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"The result ","sequence_number":1}`,
		`{"type":"response.output_text.delta","item_id":"msg_1","output_index":0,"content_index":0,"delta":"is 4.","sequence_number":2}`,
		`{"type":"response.completed","sequence_number":3,"response":{"id":"resp_1","object":"response","status":"completed","output":[],"usage":{"input_tokens":10,"output_tokens":4,"total_tokens":14}}}`,
	)
	c := newTestClient(t, srv, nil)

	out, err := c.Complete(context.Background(), llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{llm.NewSystemMessage("sys"), llm.NewUserMessage("What is 2+2?")},
	})
	require.NoError(t, err)

	answer, ok := out.(llm.FinalAnswer)
	require.True(t, ok, "got %T", out)
	assert.Equal(t, "The result is 4.", answer.Text)
	require.NotNil(t, answer.Usage)
	assert.Equal(t, 14, answer.Usage.TotalTokens)
	assert.Contains(t, *body.Load(), `"gpt-4o-mini"`)
}

func TestCompleteFunctionCall(t *testing.T) {
	srv, body := sseServer(t, http.StatusOK,
		`{"type":"response.output_item.added","output_index":0,"sequence_number":1,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"calculator","arguments":"","status":"in_progress"}}`,
		`{"type":"response.function_call_arguments.delta","item_id":"fc_1","output_index":0,"delta":"{\"expression\":","sequence_number":2}`,
		`{"type":"response.function_call_arguments.delta","item_id":"fc_1","output_index":0,"delta":"\"2+2\"}","sequence_number":3}`,
		`{"type":"response.output_item.done","output_index":0,"sequence_number":4,"item":{"type":"function_call","id":"fc_1","call_id":"call_1","name":"calculator","arguments":"{\"expression\":\"2+2\"}","status":"completed"}}`,
	)
	c := newTestClient(t, srv, nil)

	out, err := c.Complete(context.Background(), llm.Request{
		Model:    "gpt-4o-mini",
		Messages: []llm.Message{llm.NewUserMessage("What is 2+2?")},
		Tools: []tools.Spec{{
			Name:        "calculator",
			Description: "math",
			Parameters:  tools.Object(map[string]tools.Property{"expression": {Type: "string"}}, "expression"),
		}},
	})
	require.NoError(t, err)

	calls, ok := out.(llm.ToolCalls)
	require.True(t, ok, "got %T", out)
	require.Len(t, calls.Calls, 1)
	assert.Equal(t, llm.ToolCall{ID: "call_1", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}, calls.Calls[0])

	assert.Contains(t, *body.Load(), `"type":"function"`)
	assert.Contains(t, *body.Load(), `"calculator"`)
}

func TestCompleteToolsUnsupported(t *testing.T) {
	srv, _ := sseServer(t, http.StatusBadRequest,
		`{"error":{"message":"registry.ollama.ai/library/gemma:2b does not support tools","type":"api_error"}}`)
	c := newTestClient(t, srv, nil)

	_, err := c.Complete(context.Background(), llm.Request{Model: "gemma:2b"})
	assert.ErrorIs(t, err, llm.ErrToolsUnsupported)
}

func TestCompleteServerError(t *testing.T) {
	srv, _ := sseServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`)
	c := newTestClient(t, srv, nil)

	_, err := c.Complete(context.Background(), llm.Request{Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrToolsUnsupported)
	assert.True(t, c.IsTransientError(err))
}

func TestSupportsToolsOption(t *testing.T) {
	c, err := NewClient("openai", "k", "", nil)
	require.NoError(t, err)
	ok, _ := c.SupportsTools(context.Background(), "any")
	assert.True(t, ok)

	c, err = NewClient("openai", "k", "", map[string]any{"supports_tools": false})
	require.NoError(t, err)
	ok, _ = c.SupportsTools(context.Background(), "any")
	assert.False(t, ok)
}

func TestConvertMessages(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}
	items := convertMessages([]llm.Message{
		llm.NewSystemMessage("sys"),
		llm.NewUserMessage("q"),
		llm.NewToolCallMessage("", []llm.ToolCall{call}),
		llm.NewToolResultMessage(call, "4"),
		llm.NewAssistantMessage("The result is 4."),
	})
	assert.Len(t, items, 5)
}

func TestFactory(t *testing.T) {
	sys := config.DefaultSystemConfig()
	c, err := (&OpenAIFactory{}).Create(llm.ProviderGroupConfig{Type: "openai", BaseURL: "http://localhost:11434/v1/"}, sys)
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Provider())
}
