package engine

import "github.com/meshsync-dev/meshsync/pkg/protocol"

// Middleware observes and may rewrite or cancel messages crossing the
// engine. Returning nil from either hook cancels the message: a cancelled
// send rejects its pending request immediately, a cancelled receive is
// dropped before dispatch. Middleware runs in registration order on both
// paths.
type Middleware interface {
	BeforeSend(msg *protocol.Message) *protocol.Message
	BeforeRecv(msg *protocol.Message) *protocol.Message
}

// MiddlewareFuncs adapts two funcs to Middleware. Either may be nil.
type MiddlewareFuncs struct {
	Send func(msg *protocol.Message) *protocol.Message
	Recv func(msg *protocol.Message) *protocol.Message
}

func (m MiddlewareFuncs) BeforeSend(msg *protocol.Message) *protocol.Message {
	if m.Send == nil {
		return msg
	}
	return m.Send(msg)
}

func (m MiddlewareFuncs) BeforeRecv(msg *protocol.Message) *protocol.Message {
	if m.Recv == nil {
		return msg
	}
	return m.Recv(msg)
}
