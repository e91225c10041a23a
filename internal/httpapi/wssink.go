package httpapi

import (
	"time"

	"github.com/gorilla/websocket"
)

// wsSink adapts a gorilla websocket to the registry's Sink. Callers hold the
// connection's write mutex, so writes here are already single-threaded.
type wsSink struct {
	ws *websocket.Conn
}

func newWSSink(ws *websocket.Conn) *wsSink {
	return &wsSink{ws: ws}
}

func (s *wsSink) WriteMessage(msg any) error {
	_ = s.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.ws.WriteJSON(msg)
}

func (s *wsSink) Close() error {
	return s.ws.Close()
}
