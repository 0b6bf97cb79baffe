package monitor

import "time"

// MonitorMessage is one agent event as seen by a monitor.
type MonitorMessage struct {
	Timestamp time.Time
	RunID     string
	Model     string
	EventType string // status, tool_call, tool_result, message, done, error
	Tool      string
	Content   string
}

// Monitor observes agent events after they were emitted to the caller.
type Monitor interface {
	// Start 啟動監控器
	Start() error

	// Stop 停止監控器
	Stop() error

	// OnMessage must not block; it runs on the agent goroutine.
	OnMessage(msg MonitorMessage)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Start() error             { return nil }
func (Nop) Stop() error              { return nil }
func (Nop) OnMessage(MonitorMessage) {}
