package tools

import (
	"context"
	"time"
)

// Tool defines the structural interface for any capability that the agent
// can execute. It includes metadata for prompt injection (JSON Schema)
// and the execution logic itself.
type Tool interface {
	// Name is the unique registry key the model refers to.
	Name() string
	// Description tells the model when the tool is applicable.
	Description() string
	// Parameters describes the accepted arguments.
	Parameters() Schema
	// Execute performs the tool logic. Arguments have already been
	// validated and coerced against Parameters.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Schema is the JSON-schema object describing a tool's arguments.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes a single argument.
type Property struct {
	Type        string   `json:"type"` // string | number | integer | boolean
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Object builds an object schema from its properties.
func Object(props map[string]Property, required ...string) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

// Spec is the {name, description, schema} triple offered to the model.
type Spec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Result is the outcome of one tool invocation.
type Result struct {
	Tool      string        `json:"tool"`
	Succeeded bool          `json:"succeeded"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"-"`
	// Cancelled is set when the caller went away before the tool returned.
	// Such results are discarded by the agent and never reported.
	Cancelled bool `json:"-"`
}

// Text returns the output on success and the error description otherwise.
func (r Result) Text() string {
	if r.Succeeded {
		return r.Output
	}
	return r.Error
}

// Success builds a successful result.
func Success(tool, output string) Result {
	return Result{Tool: tool, Succeeded: true, Output: output}
}

// Failure builds a failed result.
func Failure(tool, msg string) Result {
	return Result{Tool: tool, Error: msg}
}
