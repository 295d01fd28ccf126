package relay

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// SSESink writes events as server-sent events, flushing after each one.
type SSESink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSESink prepares w for an event stream. It fails when the writer cannot
// flush, in which case nothing has been written yet.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSESink{w: w, flusher: flusher}, nil
}

func (s *SSESink) Send(ev Event) error {
	if _, err := io.WriteString(s.w, ev.Line+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WebSocketSink sends each event line as one text frame.
type WebSocketSink struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func NewWebSocketSink(conn *websocket.Conn, writeWait time.Duration) *WebSocketSink {
	return &WebSocketSink{conn: conn, writeWait: writeWait}
}

func (s *WebSocketSink) Send(ev Event) error {
	if s.writeWait > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(ev.Line))
}
