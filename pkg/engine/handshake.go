package engine

import (
	"context"
	"fmt"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(msg *protocol.Message)

func (f HandlerFunc) HandleMessage(msg *protocol.Message) { f(msg) }

// InitiateHandshake runs the requester side of the handshake: send
// handshake, await handshake-reply, acknowledge with handshake-complete.
// Returns the negotiated session id and operating model.
func InitiateHandshake(ctx context.Context, e *Engine) (*protocol.HandshakeReply, error) {
	future := e.SendRequest(protocol.New(&protocol.Handshake{}))
	reply, err := future.Await(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	hr, ok := reply.Payload.(*protocol.HandshakeReply)
	if !ok {
		return nil, fmt.Errorf("handshake: unexpected reply payload %q", reply.Type())
	}
	if err := e.Send(protocol.NewReply(reply, &protocol.HandshakeComplete{})); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return hr, nil
}

// AcceptHandshake runs the responder side: await handshake, reply with the
// session id and operating model, resolve on handshake-complete. The engine
// is left with no listener attached.
func AcceptHandshake(ctx context.Context, e *Engine, sessionID string, model protocol.OperatingModel) error {
	inbound := make(chan *protocol.Message, 1)
	e.StartListening(HandlerFunc(func(msg *protocol.Message) {
		if RespondToHeartbeats(e, msg) {
			return
		}
		select {
		case inbound <- msg:
		default:
		}
	}))

	var req *protocol.Message
	select {
	case req = <-inbound:
	case <-ctx.Done():
		e.StopListening()
		return ctx.Err()
	case <-e.Done():
		e.StopListening()
		return ErrConnectionClosed
	}
	// Detach before replying. The initiator may pipeline traffic right
	// behind handshake-complete; with no handler attached it buffers for
	// the next phase instead of vanishing into this one.
	e.StopListening()
	if _, ok := req.Payload.(*protocol.Handshake); !ok {
		return fmt.Errorf("handshake: expected handshake, got %q", req.Type())
	}

	reply := protocol.NewReply(req, &protocol.HandshakeReply{
		SessionID:      sessionID,
		OperatingModel: model,
	})
	if _, err := e.SendRequest(reply).Await(ctx); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	return nil
}
