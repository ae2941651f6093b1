package engine

import (
	"context"
	"sync"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// Future is the completion handle for one reply-expecting message. It
// resolves with the peer's reply or rejects with the failure that ended the
// request (timeout, connection close, error result, middleware cancel).
type Future struct {
	once sync.Once
	done chan struct{}
	msg  *protocol.Message
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(msg *protocol.Message) {
	f.once.Do(func() {
		f.msg = msg
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// rejectWith rejects while keeping the reply message that reported the
// failure, so callers relaying replies can still forward it.
func (f *Future) rejectWith(msg *protocol.Message, err error) {
	f.once.Do(func() {
		f.msg = msg
		f.err = err
		close(f.done)
	})
}

// Await blocks until the future settles or ctx expires.
func (f *Future) Await(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-f.done:
		return f.msg, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports settlement without blocking.
func (f *Future) Done() <-chan struct{} { return f.done }

// rejectedFuture returns an already-rejected future.
func rejectedFuture(err error) *Future {
	f := newFuture()
	f.reject(err)
	return f
}
