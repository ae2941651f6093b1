package session

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

func TestRuleTableCoversEveryPayloadType(t *testing.T) {
	for _, typ := range protocol.Types() {
		if RuleFor(typ) == &missingRule {
			t.Errorf("payload type %q hits the missing-rule sentinel", typ)
		}
	}
}

func TestReplyTimeoutOverrides(t *testing.T) {
	if d := ReplyTimeoutFor(protocol.TypeShowDialog); d != 5*time.Minute {
		t.Fatalf("show-dialog timeout = %v, want 5m", d)
	}
	if d := ReplyTimeoutFor(protocol.TypeActorUpdate); d != 0 {
		t.Fatalf("actor-update timeout = %v, want 0", d)
	}
	if d := sessionTimeoutFor(protocol.TypeActorUpdate); d != engine.DefaultReplyTimeout {
		t.Fatalf("session default timeout = %v", d)
	}
	if c, s := clientTimeoutFor(protocol.TypeActorUpdate), sessionTimeoutFor(protocol.TypeActorUpdate); c >= s {
		t.Fatalf("client timeout %v must fire before session timeout %v", c, s)
	}
	if c, s := clientTimeoutFor(protocol.TypeLoadAssets), sessionTimeoutFor(protocol.TypeLoadAssets); c >= s {
		t.Fatalf("client timeout %v must fire before session timeout %v", c, s)
	}
}

// recordingPeer is the raw remote end of a client connection.
type recordingPeer struct {
	engine *engine.Engine

	mu       sync.Mutex
	received []*protocol.Message
}

func startRecordingPeer(t *testing.T, conn transport.Conn) *recordingPeer {
	t.Helper()
	p := &recordingPeer{engine: engine.New(conn, engine.DefaultConfig(), testLogger())}
	p.engine.Start()
	p.engine.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
		if engine.RespondToHeartbeats(p.engine, msg) {
			return
		}
		p.mu.Lock()
		p.received = append(p.received, msg)
		p.mu.Unlock()
	}))
	return p
}

func (p *recordingPeer) waitReceived(t *testing.T, n int) []*protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		if len(p.received) >= n {
			out := make([]*protocol.Message, len(p.received))
			copy(out, p.received)
			p.mu.Unlock()
			return out
		}
		p.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d messages", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (p *recordingPeer) assertNothingReceived(t *testing.T) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.received) != 0 {
		t.Fatalf("expected no messages, got %d", len(p.received))
	}
}

func pipedClient(t *testing.T) (*Client, *recordingPeer) {
	t.Helper()
	peerSide, serverSide := transport.Pipe()
	peer := startRecordingPeer(t, peerSide)
	c := NewClient(serverSide, testLogger())
	t.Cleanup(c.Leave)
	return c, peer
}

func actorUpdateMsg(actorID string, transform string) *protocol.Message {
	return protocol.New(&protocol.ActorUpdate{
		Actor: protocol.ActorLike{ID: actorID, Transform: json.RawMessage(transform)},
	})
}

func TestQueueCoalescesActorUpdates(t *testing.T) {
	c, peer := pipedClient(t)
	c.setPhase(phaseSyncing)
	c.setStage(StageCreateActors)

	c.deliver(actorUpdateMsg("a1", `{"position":{"x":1}}`), nil, "")
	c.deliver(actorUpdateMsg("a1", `{"position":{"x":2},"rotation":{"y":3}}`), nil, "")
	c.deliver(actorUpdateMsg("a2", `{"position":{"x":9}}`), nil, "")

	if got := c.QueuedCount(); got != 2 {
		t.Fatalf("queued = %d, want 2 (updates for a1 coalesced)", got)
	}

	c.finishSync()
	msgs := peer.waitReceived(t, 2)

	first, ok := msgs[0].Payload.(*protocol.ActorUpdate)
	if !ok || first.Actor.ID != "a1" {
		t.Fatalf("first flushed message = %#v, want a1 update", msgs[0].Payload)
	}
	var transform struct {
		Position struct{ X float64 }
		Rotation struct{ Y float64 }
	}
	if err := json.Unmarshal(first.Actor.Transform, &transform); err != nil {
		t.Fatalf("merged transform: %v", err)
	}
	if transform.Position.X != 2 || transform.Rotation.Y != 3 {
		t.Fatalf("merged transform = %s, want x=2 y=3", first.Actor.Transform)
	}
}

func TestIgnoredBeforeStageNeverSends(t *testing.T) {
	c, peer := pipedClient(t)
	c.setPhase(phaseSyncing)
	c.setStage(StageLoadAssets)

	// Actor updates stage later than assets; before their stage the actor
	// does not exist for this client.
	c.deliver(actorUpdateMsg("a1", `{"position":{"x":1}}`), nil, "")

	if got := c.QueuedCount(); got != 0 {
		t.Fatalf("queued = %d, want 0", got)
	}
	c.finishSync()
	peer.assertNothingReceived(t)
}

func TestReplayedMessageQueuedDuringItsStageFlushesOnce(t *testing.T) {
	c, peer := pipedClient(t)
	c.beginSync()

	// The behavior is cached, replayed for the joiner, and then its live
	// delivery lands while the client still sits inside the stage: the
	// queue flush must not send the object a second time.
	behavior := protocol.New(&protocol.SetBehavior{ActorID: "a1", BehaviorType: "button"})
	s := &Session{
		actors: map[string]*SyncActor{
			"a1": {ID: "a1", Behavior: behavior},
		},
	}
	s.replayPerActor(c, StageSetBehaviors, func(a *SyncActor) []*protocol.Message {
		if a.Behavior == nil {
			return nil
		}
		return []*protocol.Message{a.Behavior}
	})

	c.deliver(behavior, nil, "")
	if got := c.QueuedCount(); got != 1 {
		t.Fatalf("queued = %d, want 1 (stage action defers)", got)
	}
	c.finishSync()

	msgs := peer.waitReceived(t, 1)
	if _, ok := msgs[0].Payload.(*protocol.SetBehavior); !ok {
		t.Fatalf("received %T, want *SetBehavior", msgs[0].Payload)
	}
	time.Sleep(50 * time.Millisecond)
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if len(peer.received) != 1 {
		t.Fatalf("behavior delivered %d times, want 1", len(peer.received))
	}
}

func TestDesyncHoldsUserExclusiveUntilResolved(t *testing.T) {
	c, peer := pipedClient(t)

	c.deliver(protocol.New(&protocol.UserUpdate{
		User: protocol.UserLike{ID: "u1", Name: "Ada"},
	}), nil, "")
	peer.assertNothingReceived(t)

	c.resolveUser("u1")
	msgs := peer.waitReceived(t, 1)
	if _, ok := msgs[0].Payload.(*protocol.UserUpdate); !ok {
		t.Fatalf("flushed payload = %T, want UserUpdate", msgs[0].Payload)
	}
}

func TestDesyncDropsOtherUsersMessages(t *testing.T) {
	c, peer := pipedClient(t)
	c.resolveUser("u1")

	c.deliver(protocol.New(&protocol.UserUpdate{
		User: protocol.UserLike{ID: "u2"},
	}), nil, "")
	peer.assertNothingReceived(t)

	c.deliver(protocol.New(&protocol.UserUpdate{
		User: protocol.UserLike{ID: "u1"},
	}), nil, "")
	peer.waitReceived(t, 1)
}

func TestDroppedQueuedPhysicsAfterHandover(t *testing.T) {
	c, _ := pipedClient(t)
	c.setPhase(phaseSyncing)
	c.setStage(StageLoadAssets)

	// Rigid body commands stage with actors; during the asset stage they
	// sit at before, which queues nothing, so force the during state.
	c.setStage(StageCreateActors)
	c.deliver(protocol.New(&protocol.RigidBodyAddForce{ActorID: "a1"}), nil, "departed")
	c.deliver(actorUpdateMsg("a1", `{"position":{"x":1}}`), nil, "departed")
	if got := c.QueuedCount(); got != 2 {
		t.Fatalf("queued = %d, want 2", got)
	}

	c.dropQueuedFrom("departed")
	if got := c.QueuedCount(); got != 1 {
		t.Fatalf("queued after handover = %d, want 1 (physics dropped, update kept)", got)
	}
}
