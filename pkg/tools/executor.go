package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a tool invocation when the executor has none set.
const DefaultTimeout = 10 * time.Second

// Executor dispatches invocations to the registry. Every path returns a
// Result; nothing escapes as a panic or an error.
type Executor struct {
	registry *Registry
	timeout  time.Duration
}

// NewExecutor creates an executor bound to a registry.
func NewExecutor(r *Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{registry: r, timeout: timeout}
}

// Registry returns the registry the executor dispatches to.
func (e *Executor) Registry() *Registry {
	return e.registry
}

type outcome struct {
	out string
	err error
}

// Execute runs one invocation. Unknown tools, invalid arguments, tool
// errors, panics and timeouts all become failed results. If ctx itself is
// cancelled the result is marked Cancelled; the tool goroutine is left to
// finish on its own and its output is dropped.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	start := time.Now()

	tool, err := e.registry.Lookup(name)
	if err != nil {
		slog.WarnContext(ctx, "Unknown tool call", "name", name)
		return Failure(name, err.Error())
	}

	clean, err := ValidateArgs(tool.Parameters(), args)
	if err != nil {
		slog.WarnContext(ctx, "Invalid tool arguments", "name", name, "error", err)
		return Failure(name, fmt.Sprintf("invalid arguments: %v", err))
	}

	tctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "Tool execution panicked", "tool", name, "error", r)
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", name, r)}
			}
		}()
		out, err := tool.Execute(tctx, clean)
		done <- outcome{out: out, err: err}
	}()

	slog.InfoContext(ctx, "Executing tool", "name", name, "args", clean)

	var res Result
	select {
	case o := <-done:
		if o.err != nil {
			res = Failure(name, o.err.Error())
		} else {
			res = Success(name, o.out)
		}
	case <-tctx.Done():
		if ctx.Err() != nil {
			res = Failure(name, ctx.Err().Error())
			res.Cancelled = true
		} else {
			res = Failure(name, fmt.Sprintf("tool %s timed out after %s", name, e.timeout))
		}
	}
	res.Duration = time.Since(start)

	if res.Succeeded {
		slog.DebugContext(ctx, "Tool finished", "name", name, "duration", res.Duration)
	} else if !res.Cancelled {
		slog.WarnContext(ctx, "Tool execution failed", "name", name, "error", res.Error, "duration", res.Duration)
	}
	return res
}
