package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

// echoHandler replies to every request with an operation result and
// answers heartbeats.
func echoHandler(e *Engine) Handler {
	return HandlerFunc(func(msg *protocol.Message) {
		if RespondToHeartbeats(e, msg) {
			return
		}
		if msg.AwaitingResponse {
			e.Send(protocol.NewReply(msg, &protocol.OperationResult{
				OperationResultBody: protocol.OperationResultBody{ResultCode: protocol.ResultSuccess},
			}))
		}
	})
}

func enginePair(t *testing.T) (*Engine, *Engine) {
	t.Helper()
	ca, cb := transport.Pipe()
	a := New(ca, nil, nil)
	b := New(cb, nil, nil)
	a.Start()
	b.Start()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestRequestReply(t *testing.T) {
	a, b := enginePair(t)
	b.StartListening(echoHandler(b))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := a.SendRequest(protocol.New(&protocol.DestroyActors{ActorIDs: []string{"x"}})).Await(ctx)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if _, ok := reply.Payload.(*protocol.OperationResult); !ok {
		t.Errorf("reply payload = %T, want *OperationResult", reply.Payload)
	}
}

func TestErrorResultRejects(t *testing.T) {
	a, b := enginePair(t)
	b.StartListening(HandlerFunc(func(msg *protocol.Message) {
		b.Send(protocol.NewReply(msg, &protocol.OperationResult{
			OperationResultBody: protocol.OperationResultBody{
				ResultCode: protocol.ResultError,
				Message:    "no such prefab",
			},
		}))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.SendRequest(protocol.New(&protocol.CreateFromPrefab{PrefabID: "p"})).Await(ctx)
	var re *ResultError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want *ResultError", err)
	}
	if re.Message != "no such prefab" {
		t.Errorf("message = %q", re.Message)
	}
}

func TestReplyTimeoutClosesConnection(t *testing.T) {
	ca, cb := transport.Pipe()
	a := New(ca, &Config{DefaultTimeout: 50 * time.Millisecond}, nil)
	b := New(cb, nil, nil)
	a.Start()
	b.Start()
	defer b.Close()

	// No listener on b, so the request never gets a reply.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.SendRequest(protocol.New(&protocol.SyncRequest{})).Await(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("timeout should force-close the connection")
	}
}

func TestTimeoutIsolation(t *testing.T) {
	// A slow request on one engine pair must not affect another pair.
	a1, b1 := enginePair(t)
	a2, _ := enginePair(t)
	b1.StartListening(echoHandler(b1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// a2's peer never answers, but a1's traffic flows normally.
	slow := a2.SendRequest(protocol.New(&protocol.SyncRequest{}))
	if _, err := a1.SendRequest(protocol.New(&protocol.SyncRequest{})).Await(ctx); err != nil {
		t.Fatalf("unrelated request failed: %v", err)
	}
	select {
	case <-slow.Done():
		t.Fatal("slow request should still be outstanding")
	default:
	}
}

func TestMiddlewareCancelRejectsSend(t *testing.T) {
	a, _ := enginePair(t)
	a.Use(MiddlewareFuncs{
		Send: func(msg *protocol.Message) *protocol.Message {
			if msg.Type() == protocol.TypeSyncRequest {
				return nil
			}
			return msg
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.SendRequest(protocol.New(&protocol.SyncRequest{})).Await(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestMiddlewareCancelDropsRecv(t *testing.T) {
	a, b := enginePair(t)
	got := make(chan *protocol.Message, 1)
	b.Use(MiddlewareFuncs{
		Recv: func(msg *protocol.Message) *protocol.Message { return nil },
	})
	b.StartListening(HandlerFunc(func(msg *protocol.Message) { got <- msg }))

	if err := a.Send(protocol.New(&protocol.SyncRequest{})); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		t.Fatalf("message %q should have been dropped", msg.Type())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBufferedDispatchFlushesToNextHandler(t *testing.T) {
	a, b := enginePair(t)

	// No handler attached on b yet.
	for _, id := range []string{"a", "b", "c"} {
		if err := a.Send(protocol.New(&protocol.UserLeft{UserID: id})); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	got := make(chan string, 3)
	b.StartListening(HandlerFunc(func(msg *protocol.Message) {
		got <- msg.Payload.(*protocol.UserLeft).UserID
	}))

	for _, want := range []string{"a", "b", "c"} {
		select {
		case id := <-got:
			if id != want {
				t.Errorf("flushed %q, want %q", id, want)
			}
		case <-time.After(time.Second):
			t.Fatal("buffered message never flushed")
		}
	}
}

func TestBufferedFlushPrecedesLiveDispatch(t *testing.T) {
	a, b := enginePair(t)

	for _, id := range []string{"a", "b"} {
		if err := a.Send(protocol.New(&protocol.UserLeft{UserID: id})); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	var mu sync.Mutex
	var order []string
	flushing := make(chan struct{})
	gate := make(chan struct{})
	attached := make(chan struct{})
	go func() {
		b.StartListening(HandlerFunc(func(msg *protocol.Message) {
			id := msg.Payload.(*protocol.UserLeft).UserID
			if id == "a" {
				close(flushing)
				<-gate
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}))
		close(attached)
	}()

	// A message arriving while the flush is still running must not jump
	// ahead of the buffered ones.
	<-flushing
	if err := a.Send(protocol.New(&protocol.UserLeft{UserID: "c"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	<-attached

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 3 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("delivered %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", order, want)
		}
	}
}

func TestCloseRejectsPending(t *testing.T) {
	a, _ := enginePair(t)
	future := a.SendRequest(protocol.New(&protocol.SyncRequest{}))
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := future.Await(ctx)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("err = %v, want ErrConnectionClosed", err)
	}
}

func TestDrainWaitsForPending(t *testing.T) {
	a, b := enginePair(t)
	release := make(chan struct{})
	b.StartListening(HandlerFunc(func(msg *protocol.Message) {
		go func() {
			<-release
			b.Send(protocol.NewReply(msg, &protocol.OperationResult{
				OperationResultBody: protocol.OperationResultBody{ResultCode: protocol.ResultSuccess},
			}))
		}()
	}))

	a.SendRequest(protocol.New(&protocol.SyncRequest{}))

	drained := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		drained <- a.Drain(ctx)
	}()

	select {
	case <-drained:
		t.Fatal("drain returned with a request still pending")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain never returned")
	}
}

func TestOnCloseMayCloseAgain(t *testing.T) {
	// Close callbacks tear the connection down again (Client.Leave does
	// exactly this). That second Close lands while the transport's own
	// teardown is still on the stack, so the callback must not run
	// synchronously inside it.
	ca, _ := transport.Pipe()
	e := New(ca, nil, nil)
	fired := make(chan struct{})
	e.OnClose(func(err error) {
		e.Close()
		close(fired)
	})
	e.Start()

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close deadlocked against its own close callback")
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("close callback never completed")
	}
}

func TestOnCloseFiresOnce(t *testing.T) {
	ca, _ := transport.Pipe()
	e := New(ca, nil, nil)
	calls := make(chan error, 2)
	e.OnClose(func(err error) { calls <- err })
	e.Start()

	e.Close()
	e.Close()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("close callback never fired")
	}
	select {
	case <-calls:
		t.Fatal("close callback fired twice")
	case <-time.After(100 * time.Millisecond):
	}
}
