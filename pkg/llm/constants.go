package llm

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// StopReason constants define normalized reasons for LLM generation termination.
// All providers must normalize their native stop reasons to these values.
const (
	StopReasonStop     = "stop"       // Normal completion
	StopReasonLength   = "length"     // Output truncated due to token limit
	StopReasonToolCall = "tool_calls" // Model is waiting for tool results
)
