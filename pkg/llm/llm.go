package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"toolchat/pkg/tools"

	jsoniter "github.com/json-iterator/go"
)

// json 用於 package llm 內部的 JSON 處理，統一使用 json-iterator
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrToolsUnsupported is returned when the selected model cannot produce
// structured tool calls. Providers wrap it with the model name.
var ErrToolsUnsupported = errors.New("model does not support tool calling")

// ToolsUnsupported wraps ErrToolsUnsupported for a given model.
func ToolsUnsupported(model string) error {
	return fmt.Errorf("%w: %s", ErrToolsUnsupported, model)
}

// Usage 定義通用的用量統計結構
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	ThoughtsTokens   int    `json:"thoughts_tokens,omitempty"`
	StopReason       string `json:"stop_reason,omitempty"`
}

// LogUsage logs token usage of one completion at debug level.
func LogUsage(ctx context.Context, provider, model string, usage *Usage) {
	if usage == nil {
		return
	}
	slog.DebugContext(ctx, "Completion usage",
		"provider", provider,
		"model", model,
		"prompt", usage.PromptTokens,
		"completion", usage.CompletionTokens,
		"total", usage.TotalTokens,
		"thoughts", usage.ThoughtsTokens,
		"stop_reason", usage.StopReason,
	)
}

// Request is one "what is your next move" question to the model.
type Request struct {
	Model    string
	Messages []Message
	// Tools offered to the model. Empty means direct-answer mode.
	Tools []tools.Spec
}

// Completion is the model's decision: FinalAnswer or ToolCalls.
type Completion interface {
	isCompletion()
}

// FinalAnswer is a plain natural-language answer.
type FinalAnswer struct {
	Text     string
	Thinking string
	Usage    *Usage
}

// ToolCalls asks the caller to run one or more tools and report back.
// Text holds any content the model produced alongside the calls.
type ToolCalls struct {
	Calls []ToolCall
	Text  string
	Usage *Usage
}

func (FinalAnswer) isCompletion() {}
func (ToolCalls) isCompletion()   {}

// Client 通用 LLM 客戶端介面
type Client interface {
	// Provider names the backend, e.g. "ollama".
	Provider() string

	// Complete asks the model for its next move. An error means the model
	// endpoint failed or answered with something unusable; it is never
	// retried by the caller within the same run.
	Complete(ctx context.Context, req Request) (Completion, error)

	// SupportsTools reports whether model can emit structured tool calls.
	SupportsTools(ctx context.Context, model string) (bool, error)

	// IsTransientError 判斷是否為暫時性錯誤 (如 503, Rate Limit)
	IsTransientError(err error) bool
}

// ModelInfo describes one servable model. Name is always set; the rest is
// filled in by providers that know it, such as Ollama's local tags.
type ModelInfo struct {
	Name       string        `json:"name"`
	Model      string        `json:"model,omitempty"`
	ModifiedAt *time.Time    `json:"modified_at,omitempty"`
	Size       int64         `json:"size,omitempty"`
	Digest     string        `json:"digest,omitempty"`
	Details    *ModelDetails `json:"details,omitempty"`
}

// ModelDetails mirrors the details block of an Ollama tag.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ModelLister is implemented by clients that can enumerate their models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// PassthroughRequest is a plain chat turn forwarded verbatim to the model.
type PassthroughRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Passthrougher is implemented by clients that can stream a plain chat turn
// as raw provider response lines. emit receives one JSON document per call.
type Passthrougher interface {
	Passthrough(ctx context.Context, req PassthroughRequest, emit func(line []byte) error) error
}
