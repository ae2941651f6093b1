package transport

import "sync"

// Pipe returns two connected in-process Conn halves. A frame sent on one
// half is delivered to the other half's handler; closing either half closes
// both. Used for the upstream application connection when the app runs in
// the same process, and in tests.
func Pipe() (Conn, Conn) {
	a := &pipeConn{inbox: make(chan []byte, 256), done: make(chan struct{})}
	b := &pipeConn{inbox: make(chan []byte, 256), done: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

type pipeConn struct {
	peer  *pipeConn
	inbox chan []byte
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	handler Handler

	closeOnce sync.Once
}

func (c *pipeConn) Send(data []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	// Copy so the sender may reuse its buffer.
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case c.peer.inbox <- frame:
		return nil
	case <-c.peer.done:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	}
}

func (c *pipeConn) Start(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
	go c.readLoop()
}

func (c *pipeConn) readLoop() {
	for {
		select {
		case frame := <-c.inbox:
			c.mu.Lock()
			h := c.handler
			c.mu.Unlock()
			if h != nil {
				h.HandleMessage(frame)
			}
		case <-c.done:
			return
		}
	}
}

func (c *pipeConn) Close() error {
	c.teardown()
	c.peer.teardown()
	return nil
}

func (c *pipeConn) teardown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		h := c.handler
		c.mu.Unlock()
		close(c.done)
		if h != nil {
			h.HandleClose(nil)
		}
	})
}
