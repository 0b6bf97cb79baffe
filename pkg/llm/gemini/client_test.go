package gemini

import (
	"context"
	"errors"
	"testing"

	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	"toolchat/pkg/tools"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertMessages(t *testing.T) {
	signed := &genai.Part{
		FunctionCall:     &genai.FunctionCall{Name: "calculator", Args: map[string]any{"expression": "2+2"}},
		ThoughtSignature: []byte("sig"),
	}
	withMeta := llm.ToolCall{ID: "c0", Name: "calculator", Meta: map[string]any{metaFunctionCall: signed}}
	plain := llm.ToolCall{ID: "c1", Name: "get_current_time", Arguments: map[string]any{}}

	contents, system := convertMessages([]llm.Message{
		llm.NewSystemMessage("be helpful"),
		llm.NewUserMessage("What is 2+2?"),
		llm.NewToolCallMessage("", []llm.ToolCall{withMeta, plain}),
		llm.NewToolResultMessage(withMeta, "4"),
		llm.NewAssistantMessage("The result is 4."),
	})

	require.NotNil(t, system)
	assert.Equal(t, "be helpful", system.Parts[0].Text)

	require.Len(t, contents, 4)
	assert.Equal(t, "user", contents[0].Role)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Same(t, signed, contents[1].Parts[0])
	assert.Equal(t, "get_current_time", contents[1].Parts[1].FunctionCall.Name)

	resp := contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "calculator", resp.Name)
	assert.Equal(t, map[string]any{"result": "4"}, resp.Response)

	assert.Equal(t, "The result is 4.", contents[3].Parts[0].Text)
}

func TestConvertTools(t *testing.T) {
	assert.Nil(t, convertTools(llm.Request{}))

	out := convertTools(llm.Request{Tools: []tools.Spec{{
		Name:        "calculator",
		Description: "math",
		Parameters:  tools.Object(map[string]tools.Property{"expression": {Type: "string", Description: "expr"}}, "expression"),
	}}})
	require.Len(t, out, 1)
	require.Len(t, out[0].FunctionDeclarations, 1)
	fd := out[0].FunctionDeclarations[0]
	assert.Equal(t, "calculator", fd.Name)
	require.NotNil(t, fd.Parameters)
	assert.Equal(t, []string{"expression"}, fd.Parameters.Required)
	assert.Contains(t, fd.Parameters.Properties, "expression")
}

func TestKeyRotation(t *testing.T) {
	g, err := NewGeminiClient(context.Background(), []string{"k1", "k2"}, "", false)
	require.NoError(t, err)

	first, second, third := g.pick(), g.pick(), g.pick()
	assert.NotSame(t, first, second)
	assert.Same(t, first, third)

	ok, err := g.SupportsTools(context.Background(), "gemini-2.5-flash")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFactoryRequiresKey(t *testing.T) {
	_, err := (&GeminiFactory{}).Create(llm.ProviderGroupConfig{Type: "gemini"}, config.DefaultSystemConfig())
	assert.ErrorContains(t, err, "api key")
}

func TestIsTransientError(t *testing.T) {
	g := &GeminiClient{}
	assert.True(t, g.IsTransientError(errors.New("Error 503, Message: The model is overloaded")))
	assert.True(t, g.IsTransientError(errors.New("Error 429: RESOURCE_EXHAUSTED")))
	assert.False(t, g.IsTransientError(errors.New("Error 400: invalid argument")))
	assert.False(t, g.IsTransientError(nil))
}
