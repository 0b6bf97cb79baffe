package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toolchat/pkg/agent"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// SafeConn serializes writes on a WebSocket connection; gorilla allows only
// one concurrent writer.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func NewSafeConn(conn *websocket.Conn) *SafeConn {
	return &SafeConn{Conn: conn}
}

// WriteJSON sends v as one text frame. Encoding failures wrap
// agent.ErrEventEncoding.
func (sc *SafeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", agent.ErrEventEncoding, err)
	}
	return sc.WriteMessage(websocket.TextMessage, b)
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return sc.Conn.WriteMessage(messageType, data)
}

// Close sends a normal closure frame and closes the connection.
func (sc *SafeConn) Close() error {
	sc.mu.Lock()
	_ = sc.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	sc.mu.Unlock()
	return sc.Conn.Close()
}

// WSSink emits the events of one run as WebSocket text frames.
type WSSink struct {
	conn *SafeConn
}

func NewWSSink(conn *SafeConn) *WSSink {
	return &WSSink{conn: conn}
}

// Emit implements agent.Sink.
func (s *WSSink) Emit(_ context.Context, ev agent.Event) error {
	return s.conn.WriteJSON(ev)
}
