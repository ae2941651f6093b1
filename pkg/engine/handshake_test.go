package engine

import (
	"context"
	"testing"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

func TestHandshakeRoundTrip(t *testing.T) {
	a, b := enginePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		accepted <- AcceptHandshake(ctx, b, "session-1", protocol.PeerAuthoritative)
	}()

	reply, err := InitiateHandshake(ctx, a)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if reply.SessionID != "session-1" {
		t.Errorf("session id = %q, want session-1", reply.SessionID)
	}
	if reply.OperatingModel != protocol.PeerAuthoritative {
		t.Errorf("operating model = %q", reply.OperatingModel)
	}

	select {
	case err := <-accepted:
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responder never resolved")
	}
}

func TestHandshakeResponderKeepsPipelinedTraffic(t *testing.T) {
	// The initiator sends its first real message right behind
	// handshake-complete. It must reach the handler attached after
	// AcceptHandshake returns, not die in the handshake's listener.
	a, b := enginePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		accepted <- AcceptHandshake(ctx, b, "session-1", protocol.PeerAuthoritative)
	}()

	if _, err := InitiateHandshake(ctx, a); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := a.Send(protocol.New(&protocol.SyncRequest{})); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case err := <-accepted:
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responder never resolved")
	}

	got := make(chan string, 1)
	b.StartListening(HandlerFunc(func(msg *protocol.Message) {
		got <- msg.Type()
	}))
	select {
	case typ := <-got:
		if typ != protocol.TypeSyncRequest {
			t.Errorf("delivered %q, want %q", typ, protocol.TypeSyncRequest)
		}
	case <-time.After(time.Second):
		t.Fatal("message pipelined behind the handshake never delivered")
	}
}

func TestHandshakeResponderRejectsWrongOpener(t *testing.T) {
	a, b := enginePair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	accepted := make(chan error, 1)
	go func() {
		accepted <- AcceptHandshake(ctx, b, "session-1", protocol.ServerAuthoritative)
	}()

	if err := a.Send(protocol.New(&protocol.SyncRequest{})); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case err := <-accepted:
		if err == nil {
			t.Fatal("responder should reject a non-handshake opener")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("responder never returned")
	}
}

func TestHeartbeatRecordsLatency(t *testing.T) {
	a, b := enginePair(t)
	b.StartListening(echoHandler(b))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	hb := NewHeartbeat(a)
	if err := hb.RunIterations(ctx, 3); err != nil {
		t.Fatalf("iterations: %v", err)
	}
	if got := a.Quality().Samples(); got != 3 {
		t.Errorf("samples = %d, want 3", got)
	}
	if a.Quality().LatencyMs() < 0 {
		t.Error("latency should be non-negative")
	}
	if a.Quality().HalfTripMs() > a.Quality().LatencyMs() {
		t.Error("half trip exceeds round trip")
	}
}

func TestHeartbeatFailurePropagates(t *testing.T) {
	ca, cb := transport.Pipe()
	a := New(ca, &Config{DefaultTimeout: 50 * time.Millisecond}, nil)
	b := New(cb, nil, nil)
	a.Start()
	b.Start()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hb := NewHeartbeat(a)
	if err := hb.RunIterations(ctx, 5); err == nil {
		t.Fatal("iterations should propagate the first probe failure")
	}
	if a.Quality().Samples() != 0 {
		t.Errorf("failed probes should not record samples, got %d", a.Quality().Samples())
	}
}
