package agent

import (
	"context"
	"errors"
)

// EventType tags an Event.
type EventType string

const (
	EventStatus     EventType = "status"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventMessage    EventType = "message"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one step of a run as seen by the caller. Only the fields
// relevant to Type are set; MarshalJSON writes only those.
type Event struct {
	Type      EventType      `json:"type"`
	Content   string         `json:"content,omitempty"`
	ID        string         `json:"id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result,omitempty"`
	Succeeded bool           `json:"succeeded,omitempty"`
	Complete  bool           `json:"complete,omitempty"`
}

// IsTerminal reports whether no event may follow e.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func Status(content string) Event {
	return Event{Type: EventStatus, Content: content}
}

func ToolCall(id, tool string, args map[string]any) Event {
	if args == nil {
		args = map[string]any{}
	}
	return Event{Type: EventToolCall, ID: id, Tool: tool, Args: args}
}

func ToolResult(id, tool, result string, succeeded bool) Event {
	return Event{Type: EventToolResult, ID: id, Tool: tool, Result: result, Succeeded: succeeded}
}

func Message(content string) Event {
	return Event{Type: EventMessage, Content: content}
}

func Done() Event {
	return Event{Type: EventDone, Complete: true}
}

func Error(content string) Event {
	return Event{Type: EventError, Content: content}
}

// MarshalJSON writes the wire shape for each tag. Fields that belong to the
// tag are always present, even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventToolCall:
		args := e.Args
		if args == nil {
			args = map[string]any{}
		}
		return json.Marshal(struct {
			Type EventType      `json:"type"`
			ID   string         `json:"id,omitempty"`
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}{e.Type, e.ID, e.Tool, args})
	case EventToolResult:
		return json.Marshal(struct {
			Type      EventType `json:"type"`
			ID        string    `json:"id,omitempty"`
			Tool      string    `json:"tool"`
			Result    string    `json:"result"`
			Succeeded bool      `json:"succeeded"`
		}{e.Type, e.ID, e.Tool, e.Result, e.Succeeded})
	case EventDone:
		return json.Marshal(struct {
			Type     EventType `json:"type"`
			Complete bool      `json:"complete"`
		}{e.Type, true})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	}
}

// ErrEventEncoding is wrapped by sinks that could not serialize an event.
// The runner turns it into an error event; any other sink error is taken
// as the caller going away.
var ErrEventEncoding = errors.New("failed to encode event")

// Sink receives the events of one run in order. Emit is never called
// concurrently for the same run.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
