package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

// joinOrderCounter assigns process-wide monotonically increasing join
// orders. A client's join order never changes; authority always belongs to
// the connected client with the smallest one.
var joinOrderCounter atomic.Uint64

// Client-facing reply timeouts are shorter than the session's upstream
// timeouts so a client-level timeout always fires before the corresponding
// session-level one.
const clientReplyTimeout = 20 * time.Second

// clientTimeoutFor resolves the reply timeout for messages sent to a
// client.
func clientTimeoutFor(payloadType string) time.Duration {
	if d := ReplyTimeoutFor(payloadType); d > 0 {
		return d
	}
	return clientReplyTimeout
}

// sessionTimeoutFor resolves the reply timeout for messages the session
// sends upstream. Per-type overrides get headroom over the client-facing
// timeout for the same type.
func sessionTimeoutFor(payloadType string) time.Duration {
	if d := ReplyTimeoutFor(payloadType); d > 0 {
		return d + 10*time.Second
	}
	return engine.DefaultReplyTimeout
}

// QueuedMessage is a message whose delivery to a joining client is
// deferred until its queue flushes.
type QueuedMessage struct {
	Message *protocol.Message

	// Relay, when set, expects this client's reply once the message is
	// finally sent.
	Relay *relayedRequest

	// origin is the client whose write produced this message, or "" for
	// app-originated traffic.
	origin string
}

// Client is one connected peer: a protocol engine, a join-time message
// queue, an authority flag, and a join-order number.
type Client struct {
	id        string
	joinOrder uint64
	engine    *engine.Engine
	desync    *desyncPreprocessor
	logger    *slog.Logger

	mu            sync.Mutex
	session       *Session
	queued        []*QueuedMessage
	replayed      map[string]struct{}
	relays        map[string]*relayedRequest
	userID        string
	phase         syncPhase
	stageIdx      int
	authoritative bool

	settled    chan struct{}
	settleOnce sync.Once
	leaveOnce  sync.Once
}

// NewClient wraps a connection in a client record. The client is inert
// until Session.Join runs its synchronization.
func NewClient(conn transport.Conn, logger *slog.Logger, mws ...engine.Middleware) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		id:        uuid.NewString(),
		joinOrder: joinOrderCounter.Add(1),
		relays:    make(map[string]*relayedRequest),
		settled:   make(chan struct{}),
	}
	c.logger = logger.With("component", "client", "client_id", c.id)
	c.engine = engine.New(conn, &engine.Config{
		DefaultTimeout: clientReplyTimeout,
		TimeoutFor:     clientTimeoutFor,
	}, c.logger)
	for _, mw := range mws {
		c.engine.Use(mw)
	}
	c.desync = newDesyncPreprocessor(c)
	c.engine.Use(c.desync)
	c.engine.OnClose(func(err error) { c.Leave() })
	c.engine.Start()
	return c
}

// ID returns the client's connection id.
func (c *Client) ID() string { return c.id }

// JoinOrder returns the client's immutable join-order number.
func (c *Client) JoinOrder() uint64 { return c.joinOrder }

// Engine returns the client's protocol engine.
func (c *Client) Engine() *engine.Engine { return c.engine }

// Authoritative reports whether this client's writes are trusted.
func (c *Client) Authoritative() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authoritative
}

func (c *Client) setAuthoritative(v bool) {
	c.mu.Lock()
	c.authoritative = v
	c.mu.Unlock()
}

// UserID returns the client's resolved user identity, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// resolveUser records the client's user identity and flushes messages the
// desync preprocessor held back waiting for it.
func (c *Client) resolveUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.desync.flush()
}

func (c *Client) bind(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// markSettled resolves the join-settled gate other joins wait behind.
func (c *Client) markSettled() {
	c.settleOnce.Do(func() { close(c.settled) })
}

// settledNow reports whether the client's join has fully settled.
func (c *Client) settledNow() bool {
	select {
	case <-c.settled:
		return true
	default:
		return false
	}
}

// setPhase moves the client through its synchronization lifecycle.
func (c *Client) setPhase(p syncPhase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// beginSync flips the client into its syncing phase at the first replay
// stage. One lock acquisition, so no message sees the new phase with a
// stale stage.
func (c *Client) beginSync() {
	c.mu.Lock()
	c.phase = phaseSyncing
	c.stageIdx = stageIndex[StageLoadAssets]
	c.mu.Unlock()
}

// markReplayed records a cached message included in this client's staged
// replay. A copy of the same message can land in the queue when its
// delivery raced the stage advance; the flush drops it instead of
// sending the object twice.
func (c *Client) markReplayed(id string) {
	c.mu.Lock()
	if c.replayed == nil {
		c.replayed = make(map[string]struct{})
	}
	c.replayed[id] = struct{}{}
	c.mu.Unlock()
}

// setStage advances the staged replay position.
func (c *Client) setStage(stage SyncStage) {
	c.mu.Lock()
	c.stageIdx = stageIndex[stage]
	c.mu.Unlock()
}

// actionForLocked resolves the rule action for a message headed to this
// client, given where its synchronization currently stands. Caller holds
// c.mu.
func (c *Client) actionForLocked(rule *Rule) RuleAction {
	switch c.phase {
	case phaseJoining:
		return rule.Sync.Before
	case phaseSynchronized:
		return rule.Sync.After
	}
	if rule.Sync.Stage == StageAlways {
		return rule.Sync.After
	}
	idx := stageIndex[rule.Sync.Stage]
	switch {
	case c.stageIdx < idx:
		return rule.Sync.Before
	case c.stageIdx == idx:
		return rule.Sync.During
	default:
		return rule.Sync.After
	}
}

// deliver routes one session-to-client message through the rule table.
// Queueing happens under the same lock acquisition that resolved the
// action, so a concurrent queue flush cannot strand a message.
func (c *Client) deliver(msg *protocol.Message, relay *relayedRequest, origin string) {
	rule := RuleFor(msg.Type())

	c.mu.Lock()
	action := c.actionForLocked(rule)
	if action == ActionQueue {
		if rule.Client.BeforeQueue != nil {
			if msg = rule.Client.BeforeQueue(c, msg); msg == nil {
				// Coalesced into an already-queued message.
				c.mu.Unlock()
				if relay != nil {
					relay.expect()
					relay.settleNone()
				}
				return
			}
		}
		if relay != nil {
			relay.expect()
		}
		c.queued = append(c.queued, &QueuedMessage{Message: msg, Relay: relay, origin: origin})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	switch action {
	case ActionIgnore:
		// The staged replay covers this object; nothing to do.
	case ActionAllow:
		if relay != nil {
			relay.expect()
		}
		c.sendNow(msg, relay)
	case ActionError:
		c.logger.Error("message not valid for client's sync phase",
			"payload_type", msg.Type())
	}
}

// QueuedCount reports the join-time queue depth.
func (c *Client) QueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queued)
}

// finishSync flips the client to its synchronized phase and sends every
// deferred message in order. The flip and the queue swap share one lock
// acquisition so no message lands in a queue that already flushed.
func (c *Client) finishSync() {
	c.mu.Lock()
	c.phase = phaseSynchronized
	queued := c.queued
	c.queued = nil
	replayed := c.replayed
	c.replayed = nil
	c.mu.Unlock()

	for _, qm := range queued {
		if _, dup := replayed[qm.Message.ID]; dup {
			// The staged replay already carried this message.
			if qm.Relay != nil {
				qm.Relay.settleNone()
			}
			continue
		}
		c.sendNow(qm.Message, qm.Relay)
	}
}

// sendNow transmits a message, wiring up reply relaying when the upstream
// sender awaits a response.
func (c *Client) sendNow(msg *protocol.Message, relay *relayedRequest) {
	if relay == nil {
		if err := c.engine.Send(msg); err != nil {
			c.logger.Debug("send failed", "payload_type", msg.Type(), "error", err)
		}
		return
	}

	c.mu.Lock()
	c.relays[msg.ID] = relay
	c.mu.Unlock()

	future := c.engine.SendRequest(msg)
	go c.watchRelay(msg, relay, future)
}

// watchRelay funnels one client's reply into the relayed request.
func (c *Client) watchRelay(msg *protocol.Message, relay *relayedRequest, future *engine.Future) {
	<-future.Done()
	reply, err := future.Await(context.Background())

	if err == engine.ErrCancelled && c.desync.holds(msg.ID) {
		// Held back until the client's user resolves; the flush will
		// re-send and re-watch.
		return
	}

	c.mu.Lock()
	delete(c.relays, msg.ID)
	c.mu.Unlock()

	if reply == nil && err != nil {
		relay.settle(c, nil)
		return
	}
	relay.settle(c, reply)
}

// resend re-sends a message the desync preprocessor held, restoring its
// relay if it had one.
func (c *Client) resend(msg *protocol.Message) {
	c.mu.Lock()
	relay := c.relays[msg.ID]
	c.mu.Unlock()
	if relay != nil {
		future := c.engine.SendRequest(msg)
		go c.watchRelay(msg, relay, future)
		return
	}
	if err := c.engine.Send(msg); err != nil {
		c.logger.Debug("resend failed", "payload_type", msg.Type(), "error", err)
	}
}

// dropQueuedFrom discards queued physics traffic originated by a departed
// authoritative client; replaying a dead peer's in-flight commands through
// the new authority would double-apply them.
func (c *Client) dropQueuedFrom(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.queued[:0]
	for _, qm := range c.queued {
		if qm.origin == clientID && isPhysicsWrite(qm.Message.Type()) {
			if qm.Relay != nil {
				qm.Relay.settleNone()
			}
			continue
		}
		kept = append(kept, qm)
	}
	c.queued = kept
}

func isPhysicsWrite(payloadType string) bool {
	switch payloadType {
	case protocol.TypeRigidBodyCommands,
		protocol.TypeRigidBodyMovePosition,
		protocol.TypeRigidBodyMoveRotation,
		protocol.TypeRigidBodyAddForce,
		protocol.TypeRigidBodyAddForceAtPosition,
		protocol.TypeRigidBodyAddTorque,
		protocol.TypeRigidBodyAddRelativeTorque,
		protocol.TypePhysicsBridgeUpdate:
		return true
	}
	return false
}

// Leave detaches the client and closes its connection. Idempotent: an
// explicit call, an engine close event, and a session teardown may each
// trigger it without repeated side effects.
func (c *Client) Leave() {
	c.leaveOnce.Do(func() {
		c.markSettled()
		c.engine.StopListening()
		c.engine.Close()

		c.mu.Lock()
		s := c.session
		queued := c.queued
		c.queued = nil
		relays := c.relays
		c.relays = make(map[string]*relayedRequest)
		c.mu.Unlock()

		for _, qm := range queued {
			if qm.Relay != nil {
				qm.Relay.settleNone()
			}
		}
		for _, relay := range relays {
			relay.settleNone()
		}
		if s != nil {
			s.handleLeave(c)
		}
	})
}
