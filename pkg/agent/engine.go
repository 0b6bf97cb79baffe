// Package agent drives one user turn through the think, act, observe loop:
// model calls and tool dispatches alternate until the model answers, the
// iteration ceiling is hit, or something fails. Every step is reported to a
// Sink as an Event.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"toolchat/pkg/config"
	"toolchat/pkg/llm"
	"toolchat/pkg/monitor"
	"toolchat/pkg/prompt"
	"toolchat/pkg/tools"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrIterationLimit is wrapped by the failure of a run that kept
// requesting tools past max_iterations.
var ErrIterationLimit = errors.New("iteration limit exceeded")

const (
	statusAgentMode  = "Agent mode activated"
	statusSimpleMode = "Simple chat mode"

	// transientHint is appended to model errors the provider reports as
	// temporary. Runs never retry; the caller may start a fresh one.
	transientHint = "temporary failure, try again"
)

// Runner executes agent runs. It holds no per-run state; any number of runs
// may execute concurrently on one Runner.
type Runner struct {
	client   llm.Client
	registry *tools.Registry
	prompt   *prompt.Builder
	system   func() *config.SystemConfig
	monitor  monitor.Monitor
	newID    func() string
}

// NewRunner wires a runner. system is read once at the start of every run,
// so a hot-reloaded system.json only affects later runs.
func NewRunner(
	client llm.Client,
	registry *tools.Registry,
	builder *prompt.Builder,
	system func() *config.SystemConfig,
) *Runner {
	return &Runner{
		client:   client,
		registry: registry,
		prompt:   builder,
		system:   system,
		monitor:  monitor.Nop{},
		newID:    uuid.NewString,
	}
}

// SetMonitor attaches an observer that sees every emitted event.
func (r *Runner) SetMonitor(m monitor.Monitor) {
	if m == nil {
		m = monitor.Nop{}
	}
	r.monitor = m
}

// execution is the per-run working state.
type execution struct {
	*Runner
	run      *Run
	sink     Sink
	sys      *config.SystemConfig
	executor *tools.Executor
	ended    bool
}

// Run processes one user turn and returns the finished run record. Events
// go to sink in order. Unless ctx is cancelled or the sink goes away, the
// last event is exactly one of done or error.
func (r *Runner) Run(ctx context.Context, req Request, sink Sink) (run *Run) {
	sys := r.system()
	run = &Run{
		ID:      r.newID(),
		Model:   req.Model,
		History: historyMessages(req.History),
		State:   StateStart,
		Outcome: OutcomePending,
	}
	ctx = monitor.WithRunID(ctx, run.ID)

	e := &execution{
		Runner:   r,
		run:      run,
		sink:     sink,
		sys:      sys,
		executor: tools.NewExecutor(r.registry, time.Duration(sys.ToolTimeoutMs)*time.Millisecond),
	}

	slog.InfoContext(ctx, "Agent run started", "model", req.Model, "turns", len(run.History), "tools_requested", req.ToolsEnabled)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "Agent run panicked", "error", rec)
			if !e.ended {
				e.fail(ctx, fmt.Errorf("internal error: %v", rec))
			}
		}
		slog.InfoContext(ctx, "Agent run finished",
			"outcome", run.Outcome,
			"iterations", run.Iteration,
			"tool_calls", len(run.Exchanges()),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}()

	e.loop(ctx, req)
	return run
}

func (e *execution) loop(ctx context.Context, req Request) {
	specs, ok := e.selectTools(ctx, req)
	if !ok {
		return
	}

	for {
		if ctx.Err() != nil {
			e.cancel(ctx)
			return
		}

		e.run.Iteration++
		if e.run.Iteration > e.sys.MaxIterations {
			e.fail(ctx, fmt.Errorf("%w: no final answer after %d iterations", ErrIterationLimit, e.sys.MaxIterations))
			return
		}

		e.transition(ctx, StateAwaitingModel)
		e.run.ToolsOffered = len(specs) > 0
		completion, err := e.complete(ctx, specs)
		if err != nil {
			if ctx.Err() != nil {
				e.cancel(ctx)
				return
			}
			if errors.Is(err, llm.ErrToolsUnsupported) && len(specs) > 0 && len(e.run.Rounds) == 0 {
				if e.sys.ToolFallback == config.FallbackError {
					e.fail(ctx, err)
					return
				}
				if !e.emit(ctx, Status(degradeNotice(e.run.Model))) {
					return
				}
				specs = nil
				continue
			}
			if e.client.IsTransientError(err) {
				err = fmt.Errorf("%w (%s)", err, transientHint)
			}
			e.fail(ctx, err)
			return
		}

		switch c := completion.(type) {
		case llm.FinalAnswer:
			e.finish(ctx, c.Text)
			return

		case llm.ToolCalls:
			if len(specs) == 0 {
				// Tools were not offered; treat any text as the answer.
				if c.Text != "" {
					e.finish(ctx, c.Text)
					return
				}
				e.fail(ctx, fmt.Errorf("model requested tools %s in direct-answer mode", callNames(c.Calls)))
				return
			}
			e.transition(ctx, StateDispatchingTool)
			results, ok := e.dispatch(ctx, c.Calls)
			if !ok {
				return
			}
			e.run.Rounds = append(e.run.Rounds, prompt.Round{Text: c.Text, Calls: c.Calls, Results: results})

		default:
			e.fail(ctx, fmt.Errorf("unexpected completion type %T", completion))
			return
		}
	}
}

// selectTools decides between agent mode and direct-answer mode before the
// first model call. ok is false when the run already ended.
func (e *execution) selectTools(ctx context.Context, req Request) (specs []tools.Spec, ok bool) {
	if !req.ToolsEnabled || !e.sys.EnableTools || e.registry.Len() == 0 {
		return nil, e.emit(ctx, Status(statusSimpleMode))
	}
	if !e.emit(ctx, Status(statusAgentMode)) {
		return nil, false
	}

	supported, err := e.client.SupportsTools(ctx, e.run.Model)
	if err != nil {
		if ctx.Err() != nil {
			e.cancel(ctx)
			return nil, false
		}
		// The first call will still report ErrToolsUnsupported.
		slog.WarnContext(ctx, "Tool capability probe failed", "model", e.run.Model, "error", err)
		supported = true
	}
	if supported {
		return e.registry.Specs(), true
	}

	slog.WarnContext(ctx, "Model cannot call tools", "model", e.run.Model, "policy", e.sys.ToolFallback)
	if e.sys.ToolFallback == config.FallbackError {
		e.fail(ctx, llm.ToolsUnsupported(e.run.Model))
		return nil, false
	}
	return nil, e.emit(ctx, Status(degradeNotice(e.run.Model)))
}

func degradeNotice(model string) string {
	return fmt.Sprintf("Model %s does not support tool calling; answering without tools", model)
}

// complete performs one model call under the model timeout.
func (e *execution) complete(ctx context.Context, specs []tools.Spec) (llm.Completion, error) {
	msgs, err := e.prompt.Build(prompt.Input{
		History: e.run.History,
		Tools:   specs,
		Rounds:  e.run.Rounds,
	})
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(e.sys.ModelTimeoutMs) * time.Millisecond
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.DebugContext(ctx, "Calling model", "model", e.run.Model, "iteration", e.run.Iteration, "messages", len(msgs), "tools", len(specs))
	completion, err := e.client.Complete(mctx, llm.Request{
		Model:    e.run.Model,
		Messages: msgs,
		Tools:    specs,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(mctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("model %s did not respond within %s", e.run.Model, timeout)
		}
		return nil, err
	}
	return completion, nil
}

// dispatch announces and executes one batch of tool calls. Results come back
// in request order. ok is false when the run was cancelled meanwhile.
func (e *execution) dispatch(ctx context.Context, calls []llm.ToolCall) ([]tools.Result, bool) {
	results := make([]tools.Result, len(calls))

	if !e.sys.ParallelTools || len(calls) == 1 {
		for i, call := range calls {
			if !e.emit(ctx, ToolCall(call.ID, call.Name, call.Arguments)) {
				return nil, false
			}
			results[i] = e.executor.Execute(ctx, call.Name, call.Arguments)
			if results[i].Cancelled || ctx.Err() != nil {
				e.cancel(ctx)
				return nil, false
			}
			if !e.emitResult(ctx, call, results[i]) {
				return nil, false
			}
		}
		return results, true
	}

	for _, call := range calls {
		if !e.emit(ctx, ToolCall(call.ID, call.Name, call.Arguments)) {
			return nil, false
		}
	}
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Go(func() {
			results[i] = e.executor.Execute(ctx, call.Name, call.Arguments)
		})
	}
	wg.Wait()
	if ctx.Err() != nil {
		e.cancel(ctx)
		return nil, false
	}
	for i, call := range calls {
		if !e.emitResult(ctx, call, results[i]) {
			return nil, false
		}
	}
	return results, true
}

func (e *execution) emitResult(ctx context.Context, call llm.ToolCall, res tools.Result) bool {
	return e.emit(ctx, ToolResult(call.ID, call.Name, Truncate(res.Text(), e.sys.MaxToolResultChars), res.Succeeded))
}

func (e *execution) finish(ctx context.Context, text string) {
	e.transition(ctx, StateFinalizing)
	if !e.emit(ctx, Message(text)) {
		return
	}
	if !e.emit(ctx, Done()) {
		return
	}
	e.run.Outcome = OutcomeCompleted
	e.ended = true
	e.transition(ctx, StateDone)
}

// fail emits the single error event of a run.
func (e *execution) fail(ctx context.Context, err error) {
	if e.ended {
		return
	}
	e.transition(ctx, StateErrored)
	e.run.Outcome = OutcomeFailed
	e.run.Err = err
	e.ended = true
	slog.ErrorContext(ctx, "Agent run failed", "model", e.run.Model, "iteration", e.run.Iteration, "error", err)

	ev := Error(err.Error())
	if sinkErr := e.sink.Emit(ctx, ev); sinkErr != nil {
		slog.WarnContext(ctx, "Could not deliver error event", "error", sinkErr)
	} else {
		e.observe(ev)
	}
	e.transition(ctx, StateDone)
}

// cancel ends the run without a terminal event.
func (e *execution) cancel(ctx context.Context) {
	if e.ended {
		return
	}
	e.run.Outcome = OutcomeCancelled
	e.ended = true
	slog.InfoContext(ctx, "Agent run cancelled", "iteration", e.run.Iteration)
	e.transition(ctx, StateDone)
}

// emit delivers one event. It returns false when the run must stop: the
// caller cancelled, the sink went away, or the event could not be encoded
// (the run then fails).
func (e *execution) emit(ctx context.Context, ev Event) bool {
	if ctx.Err() != nil {
		e.cancel(ctx)
		return false
	}
	if err := e.sink.Emit(ctx, ev); err != nil {
		if errors.Is(err, ErrEventEncoding) {
			e.fail(ctx, err)
			return false
		}
		slog.WarnContext(ctx, "Event sink closed", "event", ev.Type, "error", err)
		e.cancel(ctx)
		return false
	}
	e.observe(ev)
	return true
}

func (e *execution) observe(ev Event) {
	msg := monitor.MonitorMessage{
		Timestamp: time.Now(),
		RunID:     e.run.ID,
		Model:     e.run.Model,
		EventType: string(ev.Type),
		Tool:      ev.Tool,
		Content:   ev.Content,
	}
	switch ev.Type {
	case EventToolCall:
		b, _ := json.Marshal(ev.Args)
		msg.Content = string(b)
	case EventToolResult:
		msg.Content = ev.Result
	}
	e.monitor.OnMessage(msg)
}

func (e *execution) transition(ctx context.Context, s State) {
	slog.DebugContext(ctx, "State transition", "from", e.run.State, "to", s, "iteration", e.run.Iteration)
	e.run.State = s
}

// Truncate cuts s to max runes and appends a marker naming how much was
// dropped. max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return fmt.Sprintf("%s…[truncated %d chars]", string(r[:max]), len(r)-max)
}

func callNames(calls []llm.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}
