package monitor

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// CLIMonitor implements the Monitor interface, providing a direct
// terminal-based trace of every agent run.
type CLIMonitor struct {
	mu     sync.Mutex
	writer io.Writer // The output destination, typically os.Stdout.
}

// NewCLIMonitor creates a new CLI monitor
func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{
		writer: os.Stdout,
	}
}

// NewCLIMonitorTo writes to w instead of stdout.
func NewCLIMonitorTo(w io.Writer) *CLIMonitor {
	return &CLIMonitor{writer: w}
}

// Start starts the CLI monitor
func (m *CLIMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - agent events will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage receives and displays a monitoring message
func (m *CLIMonitor) OnMessage(msg MonitorMessage) {
	timestamp := msg.Timestamp.Format("2006-01-02 15:04:05")

	var displayMsg string
	switch msg.EventType {
	case "tool_call":
		displayMsg = fmt.Sprintf("[TOOL] %s(%s)", msg.Tool, msg.Content)
	case "tool_result":
		displayMsg = fmt.Sprintf("[TOOL] %s -> %s", msg.Tool, msg.Content)
	case "message":
		displayMsg = fmt.Sprintf("[AI/%s] %s", msg.Model, msg.Content)
	case "error":
		displayMsg = fmt.Sprintf("\033[31m[ERROR]\033[0m %s", msg.Content)
	case "done":
		displayMsg = "[DONE]"
	default:
		displayMsg = fmt.Sprintf("[%s] %s", msg.EventType, msg.Content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Use gray color for timestamp
	fmt.Fprintf(m.writer, "\033[90m[%s %s]\033[0m %s\n", timestamp, shortID(msg.RunID), displayMsg)
}
