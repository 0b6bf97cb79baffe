package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcTool adapts a closure to Tool for tests.
type funcTool struct {
	name   string
	schema Schema
	fn     func(ctx context.Context, args map[string]any) (string, error)
}

func (f funcTool) Name() string        { return f.name }
func (f funcTool) Description() string { return "test tool " + f.name }
func (f funcTool) Parameters() Schema  { return f.schema }
func (f funcTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	return f.fn(ctx, args)
}

func echoTool(name string) funcTool {
	return funcTool{
		name:   name,
		schema: Object(map[string]Property{"text": {Type: "string"}}, "text"),
		fn: func(_ context.Context, args map[string]any) (string, error) {
			return args["text"].(string), nil
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(echoTool("zeta"), echoTool("alpha"))
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	specs := r.Specs()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Name)
	assert.Equal(t, "test tool alpha", specs[0].Description)
	assert.Equal(t, []string{"text"}, specs[0].Parameters.Required)

	tool, ok := r.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, "zeta", tool.Name())
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(echoTool("a"), echoTool("a"))
	assert.ErrorContains(t, err, "duplicate tool name")

	_, err = NewRegistry(echoTool(" "))
	assert.ErrorContains(t, err, "empty name")
}

func TestRegistryLookupNotFound(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	_, err = r.Lookup("weather_lookup")
	assert.True(t, errors.Is(err, ErrToolNotFound))
	assert.EqualError(t, err, "tool not found: weather_lookup")
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Specs())
	_, ok := r.Get("x")
	assert.False(t, ok)
}

func TestValidateArgs(t *testing.T) {
	schema := Object(map[string]Property{
		"n":    {Type: "integer"},
		"x":    {Type: "number"},
		"s":    {Type: "string"},
		"b":    {Type: "boolean"},
		"mode": {Type: "string", Enum: []string{"a", "b"}, Default: "a"},
	}, "n")

	got, err := ValidateArgs(schema, map[string]any{"n": 3.0, "x": "2.5", "s": 7.0, "b": "true", "extra": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 3, "x": 2.5, "s": "7", "b": true, "mode": "a"}, got)

	_, err = ValidateArgs(schema, map[string]any{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "n", vErr.Field)

	_, err = ValidateArgs(schema, map[string]any{"n": 1.5})
	assert.ErrorContains(t, err, "expected type integer")

	_, err = ValidateArgs(schema, map[string]any{"n": 1, "mode": "c"})
	assert.ErrorContains(t, err, "must be one of a, b")
}
