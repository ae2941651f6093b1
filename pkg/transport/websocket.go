package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig tunes a WebSocket connection.
type WebSocketConfig struct {
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// PongTimeout bounds the wait for any inbound traffic. Zero disables
	// the read deadline; the protocol layer runs its own heartbeats.
	PongTimeout time.Duration
}

// DefaultWebSocketConfig returns the default WebSocket tuning.
func DefaultWebSocketConfig() *WebSocketConfig {
	return &WebSocketConfig{
		WriteTimeout: 10 * time.Second,
	}
}

// WebSocketConn adapts a gorilla websocket connection to Conn. Frames are
// sent as text messages carrying JSON.
type WebSocketConn struct {
	conn   *websocket.Conn
	config *WebSocketConfig

	writeMu sync.Mutex
	closed  atomic.Bool

	handler   Handler
	closeOnce sync.Once
}

// NewWebSocketConn wraps an established websocket connection.
func NewWebSocketConn(conn *websocket.Conn, config *WebSocketConfig) *WebSocketConn {
	if config == nil {
		config = DefaultWebSocketConfig()
	}
	return &WebSocketConn{conn: conn, config: config}
}

// Send writes one frame.
func (c *WebSocketConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.teardown(err)
		return err
	}
	return nil
}

// Start attaches the handler and spawns the read loop.
func (c *WebSocketConn) Start(h Handler) {
	c.handler = h
	go c.readLoop()
}

func (c *WebSocketConn) readLoop() {
	for {
		if c.config.PongTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
		}
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				err = nil
			}
			c.teardown(err)
			return
		}
		if c.handler != nil {
			c.handler.HandleMessage(msg)
		}
	}
}

// Close tears the connection down. Idempotent.
func (c *WebSocketConn) Close() error {
	c.teardown(nil)
	return nil
}

// teardown closes the socket and fires HandleClose exactly once.
func (c *WebSocketConn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.conn.Close()
		if c.handler != nil {
			c.handler.HandleClose(err)
		}
	})
}
