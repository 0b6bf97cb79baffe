package agent

import (
	"strings"

	"toolchat/pkg/llm"
	"toolchat/pkg/prompt"
	"toolchat/pkg/tools"
)

// State is the position of a run in the agent state machine.
type State int

const (
	StateStart State = iota
	StateAwaitingModel
	StateDispatchingTool
	StateFinalizing
	StateErrored
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatchingTool:
		return "dispatching_tool"
	case StateFinalizing:
		return "finalizing"
	case StateErrored:
		return "errored"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Turn is one conversation entry supplied by the caller.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request starts a run.
type Request struct {
	Model        string
	History      []Turn
	ToolsEnabled bool
}

// Exchange pairs a tool invocation with its result.
type Exchange struct {
	Call   llm.ToolCall
	Result tools.Result
}

// Run is the record of one user turn. It is owned by the goroutine that
// executes it and is only returned once the run has ended.
type Run struct {
	ID        string
	Model     string
	History   []llm.Message
	Rounds    []prompt.Round
	Iteration int
	State     State
	Outcome   Outcome
	// Err is set when Outcome is failed.
	Err error
	// ToolsOffered reports whether the last model call was offered tools.
	ToolsOffered bool
}

// Exchanges flattens the rounds in dispatch order.
func (r *Run) Exchanges() []Exchange {
	var out []Exchange
	for _, round := range r.Rounds {
		for i, call := range round.Calls {
			out = append(out, Exchange{Call: call, Result: round.Results[i]})
		}
	}
	return out
}

// historyMessages converts caller turns, dropping empty ones. Unknown roles
// are treated as user input.
func historyMessages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		switch strings.ToLower(t.Role) {
		case llm.RoleSystem:
			msgs = append(msgs, llm.NewSystemMessage(t.Content))
		case llm.RoleAssistant:
			msgs = append(msgs, llm.NewAssistantMessage(t.Content))
		default:
			msgs = append(msgs, llm.NewUserMessage(t.Content))
		}
	}
	return msgs
}
