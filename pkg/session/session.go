package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

// ErrSessionClosed reports an operation against a session that has shut
// down.
var ErrSessionClosed = errors.New("session: closed")

// Session multiplexes one application connection across every client
// connected to the same logical session. It owns the canonical replicated
// state used to catch late joiners up, tracks which client is
// authoritative, and routes every message through the rule table.
//
// All mutable session state lives behind one mutex. Contention is bounded
// by per-connection traffic rates, and a single mutual-exclusion domain
// keeps the cross-client invariants (authority, join order, cached state)
// trivially consistent.
type Session struct {
	id     string
	app    *engine.Engine
	logger *slog.Logger

	mu           sync.Mutex
	model        protocol.OperatingModel
	clients      map[string]*Client
	actors       map[string]*SyncActor
	assetBatches []*AssetBatch
	assetUpdates map[string]*protocol.Message
	assetOrder   []string
	users        map[string]protocol.UserLike
	closed       bool

	onEmpty func(*Session)
}

// Connect dials the session's application side over an established
// connection: it runs the upstream handshake, pulls the app's current
// state into the session cache, and leaves the connection in its steady
// execution phase. The returned session has no clients yet.
func Connect(ctx context.Context, sessionID string, conn transport.Conn, logger *slog.Logger, mws ...engine.Middleware) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:           sessionID,
		clients:      make(map[string]*Client),
		actors:       make(map[string]*SyncActor),
		assetUpdates: make(map[string]*protocol.Message),
		users:        make(map[string]protocol.UserLike),
	}
	s.logger = logger.With("component", "session", "session_id", sessionID)
	s.app = engine.New(conn, &engine.Config{
		DefaultTimeout: engine.DefaultReplyTimeout,
		TimeoutFor:     sessionTimeoutFor,
	}, s.logger)
	for _, mw := range mws {
		s.app.Use(mw)
	}
	s.app.OnClose(func(err error) { s.close(err) })
	s.app.Start()

	reply, err := engine.InitiateHandshake(ctx, s.app)
	if err != nil {
		s.app.Close()
		return nil, err
	}
	s.mu.Lock()
	s.model = reply.OperatingModel
	s.mu.Unlock()

	if err := s.syncFromApp(ctx); err != nil {
		s.app.Close()
		return nil, err
	}

	s.app.StartListening(engine.HandlerFunc(s.handleAppMessage))
	go engine.NewHeartbeat(s.app).Run(context.Background())
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// OperatingModel returns the model the app chose at handshake.
func (s *Session) OperatingModel() protocol.OperatingModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// ClientCount returns the number of connected clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// SetOnEmpty registers a callback fired once, when the last client leaves
// and the session shuts down.
func (s *Session) SetOnEmpty(fn func(*Session)) {
	s.mu.Lock()
	s.onEmpty = fn
	s.mu.Unlock()
}

// syncFromApp drains the app's initial state stream into the session
// cache. The app replies to sync-request with its serialized world,
// terminated by sync-complete.
func (s *Session) syncFromApp(ctx context.Context) error {
	done := make(chan struct{})
	s.app.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
		if engine.RespondToHeartbeats(s.app, msg) {
			return
		}
		if _, ok := msg.Payload.(*protocol.SyncComplete); ok {
			close(done)
			return
		}
		s.cacheAppMessage(msg)
	}))
	defer s.app.StopListening()

	if err := s.app.Send(protocol.New(&protocol.SyncRequest{})); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-s.app.Done():
		return engine.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cacheAppMessage runs an app message through its caching hook without
// fanning it out. Used during the initial app sync, when no clients exist.
func (s *Session) cacheAppMessage(msg *protocol.Message) {
	rule := RuleFor(msg.Type())
	if rule.Session.FromApp == nil {
		return
	}
	rule.Session.FromApp(s, msg)
	if msg.AwaitingResponse {
		s.replySuccess(msg)
	}
}

func (s *Session) replySuccess(to *protocol.Message) {
	err := s.app.Send(&protocol.Message{
		ID:        uuid.NewString(),
		ReplyToID: to.ID,
		Payload: &protocol.OperationResult{
			OperationResultBody: protocol.OperationResultBody{ResultCode: protocol.ResultSuccess},
		},
	})
	if err != nil {
		s.logger.Debug("reply failed", "payload_type", to.Type(), "error", err)
	}
}

// handleAppMessage is the steady-state app handler: cache, then fan out.
func (s *Session) handleAppMessage(msg *protocol.Message) {
	if engine.RespondToHeartbeats(s.app, msg) {
		return
	}
	rule := RuleFor(msg.Type())
	out := msg
	if rule.Session.FromApp != nil {
		out = rule.Session.FromApp(s, msg)
	}
	if out == nil {
		if msg.AwaitingResponse {
			s.replySuccess(msg)
		}
		return
	}
	s.broadcast(out)
}

// broadcast fans one app message out to every client. When the app awaits
// a response, a relay collects every recipient's reply and answers with
// the authoritative client's.
func (s *Session) broadcast(msg *protocol.Message) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var relay *relayedRequest
	if msg.AwaitingResponse {
		relay = newRelayedRequest(s.app, msg, s.logger)
	}
	for _, c := range clients {
		c.deliver(msg, relay, "")
	}
	if relay != nil {
		relay.finish()
	}
}

// mirror sends a client-originated message to every other client.
func (s *Session) mirror(from *Client, msg *protocol.Message) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		if c != from {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.deliver(msg, nil, from.id)
	}
}

// Join admits a client: waits for the previous join to settle, runs the
// handshake and staged synchronization, then hands the connection to the
// steady execution handler. Joins serialize behind the currently
// authoritative client so authority transfer during a join stays simple.
func (s *Session) Join(ctx context.Context, c *Client) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Leave()
			return ErrSessionClosed
		}
		auth := s.authoritativeLocked()
		if auth == nil {
			// First member. Registration and the authority grant share
			// one critical section so two simultaneous first joins
			// cannot both claim it.
			s.clients[c.id] = c
			c.setAuthoritative(true)
			s.mu.Unlock()
			break
		}
		if auth.settledNow() {
			s.clients[c.id] = c
			s.mu.Unlock()
			break
		}
		s.mu.Unlock()
		select {
		case <-auth.settled:
			// Authority may have moved while we waited; re-check.
		case <-ctx.Done():
			c.Leave()
			return ctx.Err()
		}
	}
	c.bind(s)

	if err := s.synchronizeClient(ctx, c); err != nil {
		s.logger.Error("client synchronization failed",
			"client_id", c.id, "error", err)
		c.Leave()
		return err
	}

	c.markSettled()
	s.electAuthority()
	s.announceAuthority()
	c.engine.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
		s.handleClientMessage(c, msg)
	}))
	s.logger.Info("client joined",
		"client_id", c.id, "join_order", c.joinOrder)
	return nil
}

// authoritativeLocked returns the authoritative client. Caller holds s.mu.
func (s *Session) authoritativeLocked() *Client {
	for _, c := range s.clients {
		if c.Authoritative() {
			return c
		}
	}
	return nil
}

// Authoritative returns the currently authoritative client, or nil.
func (s *Session) Authoritative() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authoritativeLocked()
}

// electAuthority moves authority to the settled client with the lowest
// join order. Exactly one client holds it whenever any are connected.
// Clients still mid-synchronization are skipped: the running replay may
// need the incumbent's state, and their own join completion re-runs the
// election.
func (s *Session) electAuthority() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *Client
	for _, cand := range s.clients {
		if !cand.settledNow() {
			continue
		}
		if best == nil || cand.joinOrder < best.joinOrder {
			best = cand
		}
	}
	if best == nil {
		return
	}
	prev := s.authoritativeLocked()
	if prev == best {
		return
	}
	if prev != nil {
		prev.setAuthoritative(false)
	}
	best.setAuthoritative(true)
}

// announceAuthority tells every client where authority currently sits.
// Announced on every membership change, even when unchanged, so a client
// that missed an earlier announcement converges.
func (s *Session) announceAuthority() {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		msg := protocol.New(&protocol.SetAuthoritative{Authoritative: c.Authoritative()})
		c.deliver(msg, nil, "")
	}
}

// handleClientMessage is the steady-state per-client handler.
func (s *Session) handleClientMessage(c *Client, msg *protocol.Message) {
	if engine.RespondToHeartbeats(c.engine, msg) {
		return
	}
	if _, ok := msg.Payload.(*protocol.SyncRequest); ok {
		// The client detected a desync and wants a full replay.
		go s.resynchronize(c)
		return
	}
	s.recvFromClient(c, msg)
}

// resynchronize re-runs the staged replay for an already-joined client.
func (s *Session) resynchronize(c *Client) {
	c.engine.StopListening()
	if err := s.replayState(context.Background(), c); err != nil {
		s.logger.Error("client resynchronization failed",
			"client_id", c.id, "error", err)
		c.Leave()
		return
	}
	c.engine.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
		s.handleClientMessage(c, msg)
	}))
}

// recvFromClient routes a client message through its rule hook and
// forwards the survivor upstream.
func (s *Session) recvFromClient(c *Client, msg *protocol.Message) {
	rule := RuleFor(msg.Type())
	out := msg
	if rule.Session.FromClient != nil {
		out = rule.Session.FromClient(s, c, msg)
	}
	if out == nil {
		return
	}
	s.forwardToApp(c, out)
}

// forwardToApp sends a client message upstream with a fresh id, keeping
// reply plumbing intact when the client awaits a response.
func (s *Session) forwardToApp(c *Client, msg *protocol.Message) {
	upstream := protocol.New(msg.Payload)
	if !msg.AwaitingResponse {
		if err := s.app.Send(upstream); err != nil {
			s.logger.Debug("forward failed", "payload_type", msg.Type(), "error", err)
		}
		return
	}

	future := s.app.SendRequest(upstream)
	go func() {
		<-future.Done()
		reply, err := future.Await(context.Background())
		if reply == nil {
			code := protocol.ResultError
			text := "request failed"
			if err != nil {
				text = err.Error()
			}
			reply = &protocol.Message{
				Payload: &protocol.OperationResult{
					OperationResultBody: protocol.OperationResultBody{ResultCode: code, Message: text},
				},
			}
		}
		sendErr := c.engine.Send(&protocol.Message{
			ID:        uuid.NewString(),
			ReplyToID: msg.ID,
			Payload:   reply.Payload,
		})
		if sendErr != nil {
			s.logger.Debug("reply relay failed", "payload_type", msg.Type(), "error", sendErr)
		}
	}()
}

// handleLeave finalizes a departed client: membership, user record, grab
// state, authority, and session teardown when empty.
func (s *Session) handleLeave(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	userID := c.UserID()
	wasAuthoritative := c.Authoritative()

	if userID != "" {
		delete(s.users, userID)
		for _, a := range s.actors {
			if a.GrabbedBy == userID {
				a.GrabbedBy = ""
			}
		}
	}

	var promoted *Client
	if wasAuthoritative {
		for _, other := range s.clients {
			if promoted == nil || other.joinOrder < promoted.joinOrder {
				promoted = other
			}
		}
	}
	remaining := make([]*Client, 0, len(s.clients))
	for _, other := range s.clients {
		remaining = append(remaining, other)
	}
	empty := len(s.clients) == 0 && !s.closed
	s.mu.Unlock()

	s.logger.Info("client left", "client_id", c.id, "user_id", userID)

	if userID != "" {
		left := protocol.New(&protocol.UserLeft{UserID: userID})
		if err := s.app.Send(left); err != nil {
			s.logger.Debug("user-left forward failed", "error", err)
		}
		for _, other := range remaining {
			other.deliver(left, nil, c.id)
		}
	}

	if promoted != nil {
		promoted.setAuthoritative(true)
		// In-flight physics from the departed authority must not replay
		// through queues after the handover.
		for _, other := range remaining {
			other.dropQueuedFrom(c.id)
		}
		s.announceAuthority()
	}

	if empty {
		s.close(nil)
	}
}

// close tears the session down: the app connection and every client.
func (s *Session) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	onEmpty := s.onEmpty
	s.onEmpty = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("session closing", "error", err)
	} else {
		s.logger.Info("session closed")
	}
	for _, c := range clients {
		c.Leave()
	}
	s.app.Close()
	if onEmpty != nil {
		onEmpty(s)
	}
}

// Close shuts the session down explicitly.
func (s *Session) Close() { s.close(nil) }

// Done resolves when the app connection has closed.
func (s *Session) Done() <-chan struct{} { return s.app.Done() }
