package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// Heartbeat probe spacing. The interval is randomized so many connections
// never synchronize their probes into a thundering herd.
const (
	heartbeatMinInterval = 5 * time.Second
	heartbeatMaxInterval = 10 * time.Second
)

// Heartbeat rides on an engine to measure connection latency.
type Heartbeat struct {
	engine *Engine
}

// NewHeartbeat creates a heartbeat helper for the engine.
func NewHeartbeat(e *Engine) *Heartbeat {
	return &Heartbeat{engine: e}
}

// Send issues one probe, waits for the reply, and records the round trip
// into the connection's quality tracker.
func (h *Heartbeat) Send(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	future := h.engine.SendRequest(protocol.New(&protocol.Heartbeat{
		ServerTime: start.UnixMilli(),
	}))
	if _, err := future.Await(ctx); err != nil {
		return 0, err
	}
	rtt := time.Since(start)
	h.engine.Quality().Record(rtt)
	return rtt, nil
}

// RunIterations issues n sequential probes, propagating the first failure.
func (h *Heartbeat) RunIterations(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := h.Send(ctx); err != nil {
			return fmt.Errorf("heartbeat %d/%d: %w", i+1, n, err)
		}
	}
	return nil
}

// Run probes at irregular intervals until ctx ends or the connection
// closes. Probe failures end the loop; the engine's timeout handling has
// already closed the connection by then.
func (h *Heartbeat) Run(ctx context.Context) {
	for {
		spread := heartbeatMaxInterval - heartbeatMinInterval
		wait := heartbeatMinInterval + time.Duration(rand.Int63n(int64(spread)))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		case <-h.engine.Done():
			return
		}
		if _, err := h.Send(ctx); err != nil {
			return
		}
	}
}

// RespondToHeartbeats answers an inbound probe. Protocol phase handlers
// call this for heartbeat payloads so probes work in every phase.
func RespondToHeartbeats(e *Engine, msg *protocol.Message) bool {
	if _, ok := msg.Payload.(*protocol.Heartbeat); !ok {
		return false
	}
	e.Send(protocol.NewReply(msg, &protocol.HeartbeatReply{
		ServerTime: time.Now().UnixMilli(),
	}))
	return true
}
