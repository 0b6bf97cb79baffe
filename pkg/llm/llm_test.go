package llm

import (
	"context"
	"errors"
	"testing"

	"toolchat/pkg/config"
	"toolchat/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name      string
	tools     bool
	models    []string
	listErr   error
	transient bool
}

func (s *stubClient) Provider() string { return s.name }

func (s *stubClient) Complete(_ context.Context, req Request) (Completion, error) {
	return FinalAnswer{Text: s.name + ":" + req.Model}, nil
}

func (s *stubClient) SupportsTools(context.Context, string) (bool, error) { return s.tools, nil }

func (s *stubClient) IsTransientError(error) bool { return s.transient }

func (s *stubClient) ListModels(context.Context) ([]ModelInfo, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	infos := make([]ModelInfo, 0, len(s.models))
	for _, m := range s.models {
		infos = append(infos, ModelInfo{Name: m, Model: m})
	}
	return infos, nil
}

type stubFactory struct{}

func (stubFactory) Create(g ProviderGroupConfig, _ *config.SystemConfig) (Client, error) {
	if g.BaseURL == "broken" {
		return nil, errors.New("bad url")
	}
	return &stubClient{name: "stub-" + g.BaseURL}, nil
}

func TestRouterResolve(t *testing.T) {
	local := &stubClient{name: "local", tools: true}
	cloud := &stubClient{name: "cloud"}

	r := NewRouter()
	r.Add(local)
	r.Add(cloud, "gpt-4o")

	c, err := r.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "cloud", c.Provider())

	c, err = r.Resolve("qwen3:8b")
	require.NoError(t, err)
	assert.Equal(t, "local", c.Provider())

	out, err := r.Complete(context.Background(), Request{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, FinalAnswer{Text: "cloud:gpt-4o"}, out)

	ok, err := r.SupportsTools(context.Background(), "llama3")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRouterUnknownModel(t *testing.T) {
	r := NewRouter()
	r.Add(&stubClient{name: "cloud"}, "gpt-4o")

	_, err := r.Complete(context.Background(), Request{Model: "qwen3:8b"})
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRouterListModels(t *testing.T) {
	r := NewRouter()
	r.Add(&stubClient{name: "a", models: []string{"qwen3:8b", "llama3"}})
	r.Add(&stubClient{name: "b", listErr: errors.New("down")}, "gpt-4o", "qwen3:8b")

	models, err := r.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{
		{Name: "qwen3:8b", Model: "qwen3:8b"},
		{Name: "llama3", Model: "llama3"},
		{Name: "gpt-4o"},
	}, models)

	failing := NewRouter()
	failing.Add(&stubClient{name: "a", listErr: errors.New("connection refused")})
	_, err = failing.ListModels(context.Background())
	assert.EqualError(t, err, "connection refused")
}

func TestRouterPassthroughUnsupported(t *testing.T) {
	r := NewRouter()
	r.Add(&stubClient{name: "plain"})
	err := r.Passthrough(context.Background(), PassthroughRequest{Model: "m"}, func([]byte) error { return nil })
	assert.ErrorContains(t, err, "does not support plain chat passthrough")
}

func TestNewFromConfig(t *testing.T) {
	RegisterProvider("stub", stubFactory{})
	sys := config.DefaultSystemConfig()

	r, err := NewFromConfig([]byte(`[
		{"type":"stub","base_url":"one","models":["m1"]},
		{"type":"stub","base_url":"broken"},
		{"type":"nope"},
		{"type":"stub","base_url":"two"}
	]`), sys)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	c, err := r.Resolve("m1")
	require.NoError(t, err)
	assert.Equal(t, "stub-one", c.Provider())
	c, err = r.Resolve("anything")
	require.NoError(t, err)
	assert.Equal(t, "stub-two", c.Provider())

	_, err = NewFromConfig([]byte(`{"type":"stub"}`), sys)
	assert.ErrorContains(t, err, "failed to parse 'llm' config")

	_, err = NewFromConfig([]byte(`[{"type":"nope"}]`), sys)
	assert.ErrorContains(t, err, "no LLM clients")
}

func TestToolsUnsupported(t *testing.T) {
	err := ToolsUnsupported("gemma:2b")
	assert.ErrorIs(t, err, ErrToolsUnsupported)
	assert.EqualError(t, err, "model does not support tool calling: gemma:2b")
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]any
	}{
		{``, map[string]any{}},
		{`null`, map[string]any{}},
		{`{"expression":"2+2"}`, map[string]any{"expression": "2+2"}},
		{`"{\"a\":1}"`, map[string]any{"a": float64(1)}},
	}
	for _, tt := range tests {
		got, err := ParseArguments(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseArguments(`[1,2]`)
	assert.Error(t, err)
}

func TestToolCallArgumentsJSON(t *testing.T) {
	assert.Equal(t, "{}", ToolCall{Name: "x"}.ArgumentsJSON())
	assert.Equal(t, `{"expression":"2+2"}`, ToolCall{Arguments: map[string]any{"expression": "2+2"}}.ArgumentsJSON())
}

func TestFunctionTools(t *testing.T) {
	assert.Nil(t, FunctionTools(nil))

	specs := []tools.Spec{{
		Name:        "calculator",
		Description: "math",
		Parameters:  tools.Object(map[string]tools.Property{"expression": {Type: "string"}}, "expression"),
	}}
	ft := FunctionTools(specs)
	require.Len(t, ft, 1)
	assert.Equal(t, "function", ft[0].Type)
	assert.Equal(t, "calculator", ft[0].Function.Name)

	m := SchemaMap(specs[0].Parameters)
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []any{"expression"}, m["required"])
}
