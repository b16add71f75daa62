package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	WriteTimeout = 10 * time.Second
	ReadTimeout  = 5 * time.Minute
)

// Conn serializes writes to a WebSocket. Gorilla allows one concurrent
// writer, and a session stream writes from the reader and the event pump.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

// Wrap returns a Conn around ws.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{Conn: ws}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return c.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(action Action, kind, errMsg string) error {
	return c.WriteTyped(ErrorResponse{
		Event:  EventError,
		Action: action,
		Kind:   kind,
		Error:  errMsg,
	})
}

// ReadRequest reads and decodes the next client message.
// It sets a read deadline.
func (c *Conn) ReadRequest(v *Request) error {
	c.SetReadDeadline(time.Now().Add(ReadTimeout))
	return c.ReadJSON(v)
}
