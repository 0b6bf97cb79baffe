// Package stream carries agent events to the caller: newline-delimited JSON
// over a streaming HTTP response, or one WebSocket frame per event.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"toolchat/pkg/agent"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ContentType is the media type of an NDJSON response.
const ContentType = "application/x-ndjson"

// NDJSONWriter writes one JSON object per line and flushes after each one,
// so nothing is held back between events.
type NDJSONWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	return &NDJSONWriter{w: w, rc: http.NewResponseController(w)}
}

// Emit implements agent.Sink.
func (n *NDJSONWriter) Emit(_ context.Context, ev agent.Event) error {
	return n.WriteJSON(ev)
}

// WriteJSON encodes v as one line. Encoding failures wrap
// agent.ErrEventEncoding; write failures mean the client is gone.
func (n *NDJSONWriter) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", agent.ErrEventEncoding, err)
	}
	return n.WriteLine(b)
}

// WriteLine writes an already encoded line, adding the newline.
func (n *NDJSONWriter) WriteLine(line []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.started {
		h := n.w.Header()
		h.Set("Content-Type", ContentType)
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")
		n.w.WriteHeader(http.StatusOK)
		n.started = true
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := n.w.Write(buf); err != nil {
		return err
	}
	if err := n.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
