package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeApp plays the application side of a session: it accepts the
// handshake, serves the initial state stream, and records everything
// forwarded to it.
type fakeApp struct {
	engine *engine.Engine

	mu       sync.Mutex
	received []*protocol.Message
	ready    chan struct{}
}

func startFakeApp(t *testing.T, conn transport.Conn, state []protocol.Payload) *fakeApp {
	t.Helper()
	f := &fakeApp{
		engine: engine.New(conn, engine.DefaultConfig(), testLogger()),
		ready:  make(chan struct{}),
	}
	f.engine.Start()
	go func() {
		err := engine.AcceptHandshake(context.Background(), f.engine, "sess-1", protocol.PeerAuthoritative)
		if err != nil {
			return
		}
		f.engine.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
			if engine.RespondToHeartbeats(f.engine, msg) {
				return
			}
			if _, ok := msg.Payload.(*protocol.SyncRequest); ok {
				for _, p := range state {
					f.engine.Send(protocol.New(p))
				}
				f.engine.Send(protocol.New(&protocol.SyncComplete{}))
				return
			}
			f.mu.Lock()
			f.received = append(f.received, msg)
			f.mu.Unlock()
		}))
		close(f.ready)
	}()
	return f
}

func (f *fakeApp) receivedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.received))
	for i, m := range f.received {
		types[i] = m.Type()
	}
	return types
}

// fakeClientPeer plays the remote side of a client connection: it
// initiates the handshake, acknowledges staged replays, and records every
// message it receives.
type fakeClientPeer struct {
	engine *engine.Engine
	userID string

	mu       sync.Mutex
	received []*protocol.Message
	synced   chan struct{}
	syncOnce sync.Once
}

func startFakeClientPeer(t *testing.T, conn transport.Conn, userID string) *fakeClientPeer {
	t.Helper()
	f := &fakeClientPeer{
		engine: engine.New(conn, engine.DefaultConfig(), testLogger()),
		userID: userID,
		synced: make(chan struct{}),
	}
	f.engine.Start()
	go func() {
		if _, err := engine.InitiateHandshake(context.Background(), f.engine); err != nil {
			return
		}
		f.engine.StartListening(engine.HandlerFunc(f.handle))
		if f.userID != "" {
			f.engine.Send(protocol.New(&protocol.UserJoined{
				User: protocol.UserLike{ID: f.userID},
			}))
		}
	}()
	return f
}

func (f *fakeClientPeer) handle(msg *protocol.Message) {
	if engine.RespondToHeartbeats(f.engine, msg) {
		return
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()

	switch msg.Payload.(type) {
	case *protocol.LoadAssets, *protocol.CreateAsset:
		if msg.AwaitingResponse {
			f.engine.Send(protocol.NewReply(msg, &protocol.AssetsLoaded{}))
		}
	case *protocol.CreateEmpty, *protocol.CreateFromLibrary, *protocol.CreateFromPrefab:
		if msg.AwaitingResponse {
			f.engine.Send(protocol.NewReply(msg, &protocol.ObjectSpawned{
				Result: protocol.OperationResultBody{ResultCode: protocol.ResultSuccess},
			}))
		}
	case *protocol.SyncAnimations:
		if msg.AwaitingResponse {
			f.engine.Send(protocol.NewReply(msg, &protocol.SyncAnimations{}))
		}
	case *protocol.SyncComplete:
		f.syncOnce.Do(func() { close(f.synced) })
	}
}

func (f *fakeClientPeer) receivedTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.received))
	for i, m := range f.received {
		types[i] = m.Type()
	}
	return types
}

func (f *fakeClientPeer) waitSynced(t *testing.T) {
	t.Helper()
	select {
	case <-f.synced:
	case <-time.After(5 * time.Second):
		t.Fatal("client never received sync-complete")
	}
}

// connectedSession builds a session wired to a fake app carrying the given
// initial state.
func connectedSession(t *testing.T, state []protocol.Payload) (*Session, *fakeApp) {
	t.Helper()
	appSide, sessionSide := transport.Pipe()
	app := startFakeApp(t, appSide, state)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, "sess-1", sessionSide, testLogger())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s, app
}

// joinClient admits one client backed by a scripted peer.
func joinClient(t *testing.T, s *Session, userID string) (*Client, *fakeClientPeer) {
	t.Helper()
	peerSide, serverSide := transport.Pipe()
	peer := startFakeClientPeer(t, peerSide, userID)
	c := NewClient(serverSide, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Join(ctx, c); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return c, peer
}

func TestFirstClientIsAuthoritative(t *testing.T) {
	s, _ := connectedSession(t, nil)
	c, peer := joinClient(t, s, "user-1")
	peer.waitSynced(t)

	if !c.Authoritative() {
		t.Fatal("first client should be authoritative")
	}
	if s.Authoritative() != c {
		t.Fatal("session should report the first client as authoritative")
	}
	if got := s.OperatingModel(); got != protocol.PeerAuthoritative {
		t.Fatalf("operating model = %q, want %q", got, protocol.PeerAuthoritative)
	}
}

func TestLateJoinReplaysStagedState(t *testing.T) {
	s, _ := connectedSession(t, []protocol.Payload{
		&protocol.LoadAssets{ContainerID: "env"},
		&protocol.CreateEmpty{Actor: protocol.ActorLike{ID: "root"}},
		&protocol.CreateEmpty{Actor: protocol.ActorLike{ID: "child", ParentID: "root"}},
		&protocol.CreateAnimation{Animation: protocol.CreateAnimationBody{ActorID: "root", Name: "spin"}},
		&protocol.SetBehavior{ActorID: "root", BehaviorType: "button"},
		&protocol.SetMediaState{ID: "m1", ActorID: "root", MediaCommand: protocol.MediaCommandStart},
		&protocol.InterpolateActor{ActorID: "root", AnimationName: "tween", Duration: 1, Enabled: true},
	})
	_, peer := joinClient(t, s, "user-1")
	peer.waitSynced(t)

	// First occurrence index per type carries the stage ordering.
	order := map[string]int{}
	for i, typ := range peer.receivedTypes() {
		if _, ok := order[typ]; !ok {
			order[typ] = i
		}
	}
	stages := []string{
		protocol.TypeLoadAssets,
		protocol.TypeCreateEmpty,
		protocol.TypeCreateAnimation,
		protocol.TypeSetBehavior,
		protocol.TypeSetMediaState,
		protocol.TypeInterpolateActor,
		protocol.TypeSyncComplete,
	}
	for i := 1; i < len(stages); i++ {
		prev, ok1 := order[stages[i-1]]
		next, ok2 := order[stages[i]]
		if !ok1 || !ok2 {
			t.Fatalf("missing replay of %q or %q; got %v", stages[i-1], stages[i], peer.receivedTypes())
		}
		if prev >= next {
			t.Fatalf("%q replayed at %d, after %q at %d", stages[i-1], prev, stages[i], next)
		}
	}

	// Parent spawns before child.
	peer.mu.Lock()
	var rootAt, childAt int
	for i, m := range peer.received {
		if p, ok := m.Payload.(*protocol.CreateEmpty); ok {
			if p.Actor.ID == "root" {
				rootAt = i
			} else if p.Actor.ID == "child" {
				childAt = i
			}
		}
	}
	peer.mu.Unlock()
	if rootAt >= childAt {
		t.Fatalf("root replayed at %d, child at %d", rootAt, childAt)
	}
}

func TestReplayedInterpolationsArriveDisabled(t *testing.T) {
	s, _ := connectedSession(t, []protocol.Payload{
		&protocol.CreateEmpty{Actor: protocol.ActorLike{ID: "root"}},
		&protocol.InterpolateActor{ActorID: "root", AnimationName: "tween", Duration: 1, Enabled: true},
	})
	_, peer := joinClient(t, s, "user-1")
	peer.waitSynced(t)

	// The joiner gets the interpolation definition parked; the animation
	// snapshot that follows starts it in phase with everyone else.
	peer.mu.Lock()
	received := append([]*protocol.Message(nil), peer.received...)
	peer.mu.Unlock()
	var seen bool
	for _, m := range received {
		ip, ok := m.Payload.(*protocol.InterpolateActor)
		if !ok {
			continue
		}
		seen = true
		if ip.Enabled {
			t.Fatal("replayed interpolation arrived enabled")
		}
	}
	if !seen {
		t.Fatalf("interpolation never replayed; got %v", peer.receivedTypes())
	}
}

func TestAuthorityTransfersToLowestJoinOrder(t *testing.T) {
	s, _ := connectedSession(t, nil)
	c1, p1 := joinClient(t, s, "user-1")
	p1.waitSynced(t)
	c2, p2 := joinClient(t, s, "user-2")
	p2.waitSynced(t)

	if !c1.Authoritative() || c2.Authoritative() {
		t.Fatal("authority should sit with the first joiner")
	}

	c1.Leave()

	deadline := time.Now().Add(2 * time.Second)
	for !c2.Authoritative() {
		if time.Now().After(deadline) {
			t.Fatal("authority never transferred to the second client")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", s.ClientCount())
	}
}

func TestAuthorityLandsOnLowestJoinOrder(t *testing.T) {
	s, _ := connectedSession(t, nil)

	// The lower join order is minted first but joins second.
	lowSide, lowServer := transport.Pipe()
	lowPeer := startFakeClientPeer(t, lowSide, "user-low")
	low := NewClient(lowServer, testLogger())

	highSide, highServer := transport.Pipe()
	highPeer := startFakeClientPeer(t, highSide, "user-high")
	high := NewClient(highServer, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Join(ctx, high); err != nil {
		t.Fatalf("Join(high): %v", err)
	}
	highPeer.waitSynced(t)
	if !high.Authoritative() {
		t.Fatal("sole member should hold authority")
	}

	if err := s.Join(ctx, low); err != nil {
		t.Fatalf("Join(low): %v", err)
	}
	lowPeer.waitSynced(t)

	if !low.Authoritative() {
		t.Fatal("authority should move to the lowest join order")
	}
	if high.Authoritative() {
		t.Fatal("authority must be exclusive")
	}
}

func TestSimultaneousFirstJoinsElectOneAuthority(t *testing.T) {
	s, _ := connectedSession(t, nil)

	type joined struct {
		client *Client
		peer   *fakeClientPeer
	}
	members := make([]joined, 2)
	for i := range members {
		peerSide, serverSide := transport.Pipe()
		members[i] = joined{
			client: NewClient(serverSide, testLogger()),
			peer:   startFakeClientPeer(t, peerSide, ""),
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(members))
	for i, m := range members {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			errs[i] = s.Join(ctx, c)
		}(i, m.client)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("Join %d: %v", i, err)
		}
	}
	for _, m := range members {
		m.peer.waitSynced(t)
	}

	var holders []*Client
	for _, m := range members {
		if m.client.Authoritative() {
			holders = append(holders, m.client)
		}
	}
	if len(holders) != 1 {
		t.Fatalf("authority holders = %d, want exactly 1", len(holders))
	}
	lowest := members[0].client
	if members[1].client.JoinOrder() < lowest.JoinOrder() {
		lowest = members[1].client
	}
	if holders[0] != lowest {
		t.Fatalf("authority sits at join order %d, want lowest %d",
			holders[0].JoinOrder(), lowest.JoinOrder())
	}
}

func TestUserJoinedForwardsToApp(t *testing.T) {
	s, app := connectedSession(t, nil)
	_, peer := joinClient(t, s, "user-1")
	peer.waitSynced(t)

	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, typ := range app.receivedTypes() {
			if typ == protocol.TypeUserJoined {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("app never saw user-joined; got %v", app.receivedTypes())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionClosesWhenLastClientLeaves(t *testing.T) {
	s, _ := connectedSession(t, nil)

	emptied := make(chan struct{})
	s.SetOnEmpty(func(*Session) { close(emptied) })

	c, peer := joinClient(t, s, "user-1")
	peer.waitSynced(t)
	c.Leave()

	select {
	case <-emptied:
	case <-time.After(2 * time.Second):
		t.Fatal("session never reported empty")
	}
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("app connection never closed")
	}
}

func TestBroadcastReachesSynchronizedClients(t *testing.T) {
	s, _ := connectedSession(t, nil)
	_, p1 := joinClient(t, s, "user-1")
	p1.waitSynced(t)
	_, p2 := joinClient(t, s, "user-2")
	p2.waitSynced(t)

	s.broadcast(protocol.New(&protocol.ActorCorrection{ActorID: "a1"}))

	for _, peer := range []*fakeClientPeer{p1, p2} {
		deadline := time.Now().Add(2 * time.Second)
		for {
			found := false
			for _, typ := range peer.receivedTypes() {
				if typ == protocol.TypeActorCorrection {
					found = true
				}
			}
			if found {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("peer never received the broadcast; got %v", peer.receivedTypes())
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}
