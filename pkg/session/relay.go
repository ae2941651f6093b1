package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// relayedRequest tracks one reply-expecting app message fanned out to
// every client. The response is held until all recipients have settled;
// the authoritative client's reply answers the app, with any other reply
// as fallback and a synthesized error when nobody replied at all.
type relayedRequest struct {
	app    *engine.Engine
	origin *protocol.Message
	logger *slog.Logger

	mu        sync.Mutex
	remaining int
	finished  bool
	authReply *protocol.Message
	fallback  *protocol.Message
}

func newRelayedRequest(app *engine.Engine, origin *protocol.Message, logger *slog.Logger) *relayedRequest {
	return &relayedRequest{app: app, origin: origin, logger: logger}
}

// expect registers one more recipient whose settle the response waits on.
// Called under the fan-out before the recipient's send or queue.
func (r *relayedRequest) expect() {
	r.mu.Lock()
	r.remaining++
	r.mu.Unlock()
}

// settle records one client's reply, or nil when the client produced none
// (timeout, departure, dropped by its user filter).
func (r *relayedRequest) settle(c *Client, reply *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reply != nil {
		if c.Authoritative() {
			r.authReply = reply
		} else if r.fallback == nil {
			r.fallback = reply
		}
	}
	r.remaining--
	r.maybeRespond()
}

// settleNone records a recipient that will never reply.
func (r *relayedRequest) settleNone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining--
	r.maybeRespond()
}

// finish marks the fan-out complete. Until then the response holds even
// if early recipients have already settled.
func (r *relayedRequest) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.maybeRespond()
}

// maybeRespond sends the upstream reply once every recipient has settled.
// Caller holds r.mu.
func (r *relayedRequest) maybeRespond() {
	if !r.finished || r.remaining > 0 {
		return
	}
	r.finished = false // respond at most once

	reply := r.authReply
	if reply == nil {
		reply = r.fallback
	}
	var payload protocol.Payload
	if reply != nil {
		payload = reply.Payload
	} else {
		payload = &protocol.OperationResult{
			OperationResultBody: protocol.OperationResultBody{
				ResultCode: protocol.ResultError,
				Message:    "no client responded to " + r.origin.Type(),
			},
		}
	}
	err := r.app.Send(&protocol.Message{
		ID:        uuid.NewString(),
		ReplyToID: r.origin.ID,
		Payload:   payload,
	})
	if err != nil {
		r.logger.Debug("relay response failed", "payload_type", r.origin.Type(), "error", err)
	}
}
