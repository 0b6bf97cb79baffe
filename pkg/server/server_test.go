package server

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"toolchat/pkg/agent"
	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	"toolchat/pkg/monitor"
	"toolchat/pkg/prompt"
	"toolchat/pkg/tools"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records requests and replays fixed events.
type fakeRunner struct {
	mu       sync.Mutex
	requests []agent.Request
	events   []agent.Event
	block    bool
	mon      monitor.Monitor
}

func (f *fakeRunner) Run(ctx context.Context, req agent.Request, sink agent.Sink) *agent.Run {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return &agent.Run{Outcome: agent.OutcomeCancelled}
	}
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return &agent.Run{Outcome: agent.OutcomeCancelled}
		}
	}
	return &agent.Run{Outcome: agent.OutcomeCompleted}
}

func (f *fakeRunner) SetMonitor(m monitor.Monitor) { f.mon = m }

func (f *fakeRunner) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

type fakeBackend struct {
	mu       sync.Mutex
	models   []llm.ModelInfo
	listErr  error
	lines    []string
	chatErr  error
	lastChat llm.PassthroughRequest
}

func (f *fakeBackend) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.listErr
}

func (f *fakeBackend) Passthrough(_ context.Context, req llm.PassthroughRequest, emit func([]byte) error) error {
	f.mu.Lock()
	f.lastChat = req
	f.mu.Unlock()
	for _, l := range f.lines {
		if err := emit([]byte(l)); err != nil {
			return err
		}
	}
	return f.chatErr
}

func (f *fakeBackend) LastChat() llm.PassthroughRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastChat
}

func newTestServer(t *testing.T, runner AgentRunner, backend Backend, mutate ...func(*config.SystemConfig)) *httptest.Server {
	t.Helper()
	cfg := config.DefaultConfig()
	sys := config.DefaultSystemConfig()
	for _, m := range mutate {
		m(sys)
	}
	srv, err := NewBuilder(cfg).
		WithSystemConfig(func() *config.SystemConfig { return sys }).
		WithRunner(runner).
		WithBackend(backend).
		Build()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func readLines(t *testing.T, resp *http.Response) []string {
	t.Helper()
	defer resp.Body.Close()
	var lines []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestBuilderValidation(t *testing.T) {
	_, err := NewBuilder(config.DefaultConfig()).WithBackend(&fakeBackend{}).Build()
	assert.ErrorContains(t, err, "agent runner")

	_, err = NewBuilder(config.DefaultConfig()).WithRunner(&fakeRunner{}).Build()
	assert.ErrorContains(t, err, "model backend")

	runner := &fakeRunner{}
	mon := monitor.NewCLIMonitorTo(&strings.Builder{})
	_, err = NewBuilder(config.DefaultConfig()).WithRunner(runner).WithBackend(&fakeBackend{}).WithMonitor(mon).Build()
	require.NoError(t, err)
	assert.Same(t, mon, runner.mon)
}

func TestHealth(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		ts := newTestServer(t, &fakeRunner{}, &fakeBackend{}, func(s *config.SystemConfig) { s.EnableTools = enabled })

		resp, err := http.Get(ts.URL + "/api/health")
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, "ok", body["status"])
		want := "disabled"
		if enabled {
			want = "enabled"
		}
		assert.Equal(t, want, body["agent_mode"])
	}
}

func TestModels(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		listed := []llm.ModelInfo{
			{Name: "qwen3:8b", Model: "qwen3:8b", Size: 5225388164, Details: &llm.ModelDetails{Family: "qwen3", ParameterSize: "8.2B"}},
			{Name: "llama3.2"},
		}
		ts := newTestServer(t, &fakeRunner{}, &fakeBackend{models: listed})
		resp, err := http.Get(ts.URL + "/api/models")
		require.NoError(t, err)
		defer resp.Body.Close()

		var body struct {
			Models []llm.ModelInfo `json:"models"`
			Error  string          `json:"error"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, listed, body.Models)
		assert.Empty(t, body.Error)
	})

	t.Run("backend down", func(t *testing.T) {
		ts := newTestServer(t, &fakeRunner{}, &fakeBackend{listErr: errors.New("connection refused")})
		resp, err := http.Get(ts.URL + "/api/models")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, []any{}, body["models"])
		assert.Equal(t, "connection refused", body["error"])
	})
}

func TestChatPassthrough(t *testing.T) {
	backend := &fakeBackend{lines: []string{
		`{"message":{"role":"assistant","content":"He"},"done":false}`,
		`{"message":{"role":"assistant","content":"llo"},"done":true}`,
	}}
	ts := newTestServer(t, &fakeRunner{}, backend)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.Equal(t, backend.lines, readLines(t, resp))
	assert.Equal(t, "qwen3:8b", backend.LastChat().Model)
	assert.True(t, backend.LastChat().Stream)
	assert.Equal(t, []llm.Message{llm.NewUserMessage("hi")}, backend.LastChat().Messages)
}

func TestChatPassthroughError(t *testing.T) {
	backend := &fakeBackend{chatErr: errors.New("model \"nope\" not found")}
	ts := newTestServer(t, &fakeRunner{}, backend)

	resp, err := http.Post(ts.URL+"/api/chat", "application/json",
		strings.NewReader(`{"model":"nope","messages":[{"role":"user","content":"hi"}],"stream":false}`))
	require.NoError(t, err)

	lines := readLines(t, resp)
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"error":"Error: model \"nope\" not found"}`, lines[0])
	assert.False(t, backend.LastChat().Stream)
}

func TestAgentChat(t *testing.T) {
	runner := &fakeRunner{events: []agent.Event{
		agent.Status("Agent mode activated"),
		agent.Message("hello"),
		agent.Done(),
	}}
	ts := newTestServer(t, runner, &fakeBackend{})

	resp, err := http.Post(ts.URL+"/api/agent/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"model":"llama3.2","tool_choice":"auto"}`))
	require.NoError(t, err)

	lines := readLines(t, resp)
	require.Len(t, lines, 3)
	assert.JSONEq(t, `{"type":"message","content":"hello"}`, lines[1])
	assert.JSONEq(t, `{"type":"done","complete":true}`, lines[2])

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, agent.Request{
		Model:        "llama3.2",
		History:      []agent.Turn{{Role: "user", Content: "hi"}},
		ToolsEnabled: true,
	}, reqs[0])
}

func TestAgentChatToolChoice(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, &fakeBackend{})

	resp, err := http.Post(ts.URL+"/api/agent/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"tool_choice":"none"}`))
	require.NoError(t, err)
	resp.Body.Close()

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].ToolsEnabled)
	assert.Equal(t, "qwen3:8b", reqs[0].Model)
}

func TestAgentChatBadRequest(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, &fakeBackend{})

	for _, body := range []string{
		`{not json`,
		`{"messages":[]}`,
		`{"messages":[{"role":"user","content":"hi"}],"tool_choice":"sometimes"}`,
	} {
		resp, err := http.Post(ts.URL+"/api/agent/chat", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		resp.Body.Close()
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, &fakeBackend{})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/agent/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAgentWebSocketRejectsForeignOrigin(t *testing.T) {
	ts := newTestServer(t, &fakeRunner{}, &fakeBackend{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/agent/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	conn.Close()
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/agent/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvents(t *testing.T, conn *websocket.Conn, n int) []agent.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	out := make([]agent.Event, 0, n)
	for len(out) < n {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev agent.Event
		require.NoError(t, json.Unmarshal(data, &ev))
		out = append(out, ev)
	}
	return out
}

func TestAgentWebSocket(t *testing.T) {
	runner := &fakeRunner{events: []agent.Event{agent.Message("hi"), agent.Done()}}
	ts := newTestServer(t, runner, &fakeBackend{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"one"}]}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"two"}],"tool_choice":"none"}`)))

	events := readEvents(t, conn, 5)
	assert.Equal(t, agent.EventMessage, events[0].Type)
	assert.Equal(t, agent.EventDone, events[1].Type)
	assert.Equal(t, agent.EventError, events[2].Type)
	assert.Contains(t, events[2].Content, "invalid request")
	assert.Equal(t, agent.EventMessage, events[3].Type)
	assert.Equal(t, agent.EventDone, events[4].Type)

	reqs := runner.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "one", reqs[0].History[0].Content)
	assert.True(t, reqs[0].ToolsEnabled)
	assert.False(t, reqs[1].ToolsEnabled)
}

func TestAgentWebSocketDisconnectCancelsRun(t *testing.T) {
	runner := &fakeRunner{block: true}
	ts := newTestServer(t, runner, &fakeBackend{})
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"messages":[{"role":"user","content":"hang"}]}`)))
	require.Eventually(t, func() bool { return len(runner.Requests()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	// The blocked run only returns once its context is cancelled; the
	// server then closes its side.
	done := make(chan struct{})
	go func() {
		ts.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled after the client disconnected")
	}
}

// scriptedClient answers with a calculator call, then with the result.
type scriptedClient struct {
	mu sync.Mutex
	n  int
}

func (c *scriptedClient) Provider() string { return "scripted" }
func (c *scriptedClient) SupportsTools(context.Context, string) (bool, error) {
	return true, nil
}
func (c *scriptedClient) IsTransientError(error) bool { return false }
func (c *scriptedClient) Complete(context.Context, llm.Request) (llm.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n == 1 {
		return llm.ToolCalls{Calls: []llm.ToolCall{{ID: "call_0", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}}}, nil
	}
	return llm.FinalAnswer{Text: "The result is 4."}, nil
}

func TestAgentChatEndToEnd(t *testing.T) {
	clock := func() time.Time { return time.Date(2024, 7, 14, 10, 30, 0, 0, time.UTC) }
	registry, err := tools.NewRegistry(tools.Builtin(clock)...)
	require.NoError(t, err)
	builder, err := prompt.NewBuilder("", clock)
	require.NoError(t, err)
	sys := config.DefaultSystemConfig()
	runner := agent.NewRunner(&scriptedClient{}, registry, builder, func() *config.SystemConfig { return sys })
	ts := newTestServer(t, runner, &fakeBackend{})

	resp, err := http.Post(ts.URL+"/api/agent/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"What is 2+2?"}],"model":"qwen3:8b"}`))
	require.NoError(t, err)

	lines := readLines(t, resp)
	require.Len(t, lines, 5)
	assert.JSONEq(t, `{"type":"status","content":"Agent mode activated"}`, lines[0])
	assert.JSONEq(t, `{"type":"tool_call","id":"call_0","tool":"calculator","args":{"expression":"2+2"}}`, lines[1])
	assert.JSONEq(t, `{"type":"tool_result","id":"call_0","tool":"calculator","result":"4","succeeded":true}`, lines[2])
	assert.JSONEq(t, `{"type":"message","content":"The result is 4."}`, lines[3])
	assert.JSONEq(t, `{"type":"done","complete":true}`, lines[4])
}
