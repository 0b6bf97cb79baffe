package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

type ctxKey string

const runIDKey ctxKey = "run_id"

// WithRunID tags ctx with the agent run id. The log handler prints it and
// the stream debugger nests its files under it.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID returns the run id stored in ctx, or "".
func RunID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

// CustomHandler implements slog.Handler to provide [TIME] [LEVEL] [RUN] format
type CustomHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
}

func NewCustomHandler(w io.Writer, level slog.Leveler) *CustomHandler {
	return &CustomHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *CustomHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := bytes.NewBuffer(nil)

	// Format: [2006-01-02 15:04:05] [LEVEL] [RUN_ID] Message
	// Or:    [2006-01-02 15:04:05] [LEVEL] Message (outside a run)
	fmt.Fprintf(buf, "[%s] [%s]",
		r.Time.Format("2006-01-02 15:04:05"),
		r.Level,
	)

	if id := RunID(ctx); id != "" {
		fmt.Fprintf(buf, " [%s]", shortID(id))
	}

	fmt.Fprintf(buf, " %s", r.Message)

	for _, a := range h.attrs {
		h.appendAttr(buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.appendAttr(buf, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *CustomHandler) appendAttr(buf *bytes.Buffer, a slog.Attr) {
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")

	val := a.Value.Resolve()
	switch val.Kind() {
	case slog.KindString:
		fmt.Fprintf(buf, "%q", val.String())
	case slog.KindTime:
		buf.WriteString(val.Time().Format(time.RFC3339))
	default:
		fmt.Fprintf(buf, "%v", val.Any())
	}
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CustomHandler{
		mu:    h.mu,
		w:     h.w,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	// Grouping not fully supported in this simple implementation
	return h
}

// shortID keeps log lines narrow; uuids are unique enough in 8 chars.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupSlog installs the CustomHandler as the global logger. The returned
// LevelVar lets a config reload change verbosity without reinstalling it.
func SetupSlog(levelStr string) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(levelStr))

	slog.SetDefault(slog.New(NewCustomHandler(os.Stderr, level)))
	return level
}

// PrintBanner prints the startup banner
func PrintBanner(addr string) {
	fmt.Printf(`
  _              _      _           _
 | |_ ___   ___ | | ___| |__   __ _| |_
 | __/ _ \ / _ \| |/ __| '_ \ / _' | __|
 | || (_) | (_) | | (__| | | | (_| | |_
  \__\___/ \___/|_|\___|_| |_|\__,_|\__|

  listening on http://%s
`, addr)
}
