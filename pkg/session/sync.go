package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// syncHeartbeats is how many heartbeats precede the staged replay. The
// exchanges prime the connection's latency estimate, which the animation
// snapshot compensation depends on.
const syncHeartbeats = 10

// synchronizeClient runs a joining client's full protocol: handshake, then
// the staged replay.
func (s *Session) synchronizeClient(ctx context.Context, c *Client) error {
	s.mu.Lock()
	model := s.model
	s.mu.Unlock()
	if err := engine.AcceptHandshake(ctx, c.engine, s.id, model); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	return s.replayState(ctx, c)
}

// replayState walks a client through the synchronization stages, flushing
// its queue and announcing completion at the end. Also the re-entry point
// when a synchronized client requests a fresh replay.
func (s *Session) replayState(ctx context.Context, c *Client) error {
	c.beginSync()

	// Clients can talk during the replay: heartbeat probes, user-joined,
	// forwarded diagnostics. Everything else routes as usual.
	c.engine.StartListening(engine.HandlerFunc(func(msg *protocol.Message) {
		if engine.RespondToHeartbeats(c.engine, msg) {
			return
		}
		if _, ok := msg.Payload.(*protocol.SyncRequest); ok {
			return
		}
		s.recvFromClient(c, msg)
	}))

	hb := engine.NewHeartbeat(c.engine)
	if err := hb.RunIterations(ctx, syncHeartbeats); err != nil {
		return fmt.Errorf("heartbeats: %w", err)
	}

	if err := s.replayAssets(ctx, c); err != nil {
		return fmt.Errorf("stage %s: %w", StageLoadAssets, err)
	}

	if err := s.replayActors(ctx, c); err != nil {
		return fmt.Errorf("stage %s: %w", StageCreateActors, err)
	}

	s.replayPerActor(c, StageCreateAnimations, func(a *SyncActor) []*protocol.Message {
		return a.CreatedAnimations
	})

	s.replayPerActor(c, StageSetBehaviors, func(a *SyncActor) []*protocol.Message {
		if a.Behavior == nil {
			return nil
		}
		return []*protocol.Message{a.Behavior}
	})

	s.replayPerActor(c, StageActiveSoundInstances, func(a *SyncActor) []*protocol.Message {
		msgs := make([]*protocol.Message, 0, len(a.ActiveMediaInstances))
		for _, m := range a.ActiveMediaInstances {
			msgs = append(msgs, m)
		}
		return msgs
	})

	s.replayInterpolations(c)
	s.replayAnimationSnapshot(ctx, c)

	if err := c.engine.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}

	c.finishSync()
	if err := c.engine.Send(protocol.New(&protocol.SyncComplete{})); err != nil {
		return err
	}
	return nil
}

// replayMessage clones a cached message into a fresh envelope. Cached
// payloads keep mutating as new updates merge in, so replays work on a
// copy snapshotted under the session lock.
func replayMessage(m *protocol.Message) *protocol.Message {
	data, err := protocol.Marshal(m)
	if err != nil {
		return protocol.New(m.Payload)
	}
	clone, err := protocol.Unmarshal(data)
	if err != nil {
		return protocol.New(m.Payload)
	}
	return protocol.New(clone.Payload)
}

type assetReplay struct {
	containerID string
	msg         *protocol.Message
}

// replayAssets replays every cached asset batch, awaiting each
// acknowledgment, then the merged per-asset updates. Actors reference
// assets, so nothing past this stage runs until every batch is in.
//
// Here as in every stage helper, the stage advance and the state snapshot
// share one session-lock acquisition. A live update then either merged
// before the snapshot and routes by the previous stage, or merged after
// it and routes by this one; it can never do both.
func (s *Session) replayAssets(ctx context.Context, c *Client) error {
	s.mu.Lock()
	c.setStage(StageLoadAssets)
	batches := make([]assetReplay, 0, len(s.assetBatches))
	for _, b := range s.assetBatches {
		c.markReplayed(b.Creation.ID)
		batches = append(batches, assetReplay{b.ContainerID, replayMessage(b.Creation)})
	}
	updates := make([]*protocol.Message, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		if m, ok := s.assetUpdates[id]; ok {
			c.markReplayed(m.ID)
			updates = append(updates, replayMessage(m))
		}
	}
	s.mu.Unlock()

	for _, b := range batches {
		if _, err := c.engine.SendRequest(b.msg).Await(ctx); err != nil {
			return fmt.Errorf("container %s: %w", b.containerID, err)
		}
	}
	for _, m := range updates {
		if err := c.engine.Send(m); err != nil {
			return err
		}
	}
	return nil
}

// replayActors replays the actor tree depth first: a parent's spawn is
// acknowledged before any of its children are sent, so the client never
// sees a child referencing an unknown parent.
func (s *Session) replayActors(ctx context.Context, c *Client) error {
	s.mu.Lock()
	c.setStage(StageCreateActors)
	children := make(map[string][]*SyncActor)
	var roots []*SyncActor
	for _, a := range s.actors {
		parent := a.ParentID()
		if parent == "" || s.actors[parent] == nil {
			roots = append(roots, a)
			continue
		}
		children[parent] = append(children[parent], a)
	}
	s.mu.Unlock()

	sortActors(roots)
	for _, a := range roots {
		if err := s.replayActorTree(ctx, c, a, children); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) replayActorTree(ctx context.Context, c *Client, a *SyncActor, children map[string][]*SyncActor) error {
	s.mu.Lock()
	exclusive := a.ExclusiveToUser
	c.markReplayed(a.Creation.ID)
	msg := replayMessage(a.Creation)
	s.mu.Unlock()
	if exclusive != "" && exclusive != c.UserID() {
		// The whole subtree belongs to another user's client.
		return nil
	}
	if _, err := c.engine.SendRequest(msg).Await(ctx); err != nil {
		return fmt.Errorf("actor %s: %w", a.ID, err)
	}
	kids := children[a.ID]
	sortActors(kids)
	for _, child := range kids {
		if err := s.replayActorTree(ctx, c, child, children); err != nil {
			return err
		}
	}
	return nil
}

// sortActors orders a sibling group deterministically.
func sortActors(actors []*SyncActor) {
	sort.Slice(actors, func(i, j int) bool { return actors[i].ID < actors[j].ID })
}

// replayPerActor advances the client to stage, snapshots the per-actor
// slice of cached messages under the same lock acquisition, and sends
// them fire and forget in deterministic actor order.
func (s *Session) replayPerActor(c *Client, stage SyncStage, pick func(*SyncActor) []*protocol.Message) {
	s.mu.Lock()
	c.setStage(stage)
	actors := make([]*SyncActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	var msgs []*protocol.Message
	sortActors(actors)
	for _, a := range actors {
		if a.ExclusiveToUser != "" && a.ExclusiveToUser != c.UserID() {
			continue
		}
		for _, m := range pick(a) {
			c.markReplayed(m.ID)
			msgs = append(msgs, replayMessage(m))
		}
	}
	s.mu.Unlock()

	for _, m := range msgs {
		if err := c.engine.Send(m); err != nil {
			c.logger.Debug("replay send failed", "payload_type", m.Type(), "error", err)
		}
	}
}

// replayInterpolations resends the active interpolation definitions with
// playback disabled. The joiner receives them parked; the animation
// snapshot that follows carries the running state and starts them in
// phase with everyone else.
func (s *Session) replayInterpolations(c *Client) {
	s.mu.Lock()
	c.setStage(StageSyncAnimations)
	actors := make([]*SyncActor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	sortActors(actors)
	var msgs []*protocol.Message
	for _, a := range actors {
		if a.ExclusiveToUser != "" && a.ExclusiveToUser != c.UserID() {
			continue
		}
		for _, m := range a.ActiveInterpolations {
			c.markReplayed(m.ID)
			clone := replayMessage(m)
			if ip, ok := clone.Payload.(*protocol.InterpolateActor); ok {
				ip.Enabled = false
			}
			msgs = append(msgs, clone)
		}
	}
	s.mu.Unlock()

	for _, m := range msgs {
		if err := c.engine.Send(m); err != nil {
			c.logger.Debug("replay send failed", "payload_type", m.Type(), "error", err)
		}
	}
}

// replayAnimationSnapshot pulls the running animation state from the
// authoritative client and hands it to the joiner with basis times pushed
// forward by both connections' measured one-way latencies, so playback
// lands in phase. The first client has nobody to snapshot from.
func (s *Session) replayAnimationSnapshot(ctx context.Context, c *Client) {
	auth := s.Authoritative()
	if auth == nil || auth == c {
		return
	}
	future := auth.engine.SendRequest(protocol.New(&protocol.SyncAnimations{}))
	reply, err := future.Await(ctx)
	if err != nil {
		s.logger.Warn("animation snapshot unavailable",
			"authoritative_client", auth.ID(), "error", err)
		return
	}
	snapshot, ok := reply.Payload.(*protocol.SyncAnimations)
	if !ok {
		s.logger.Warn("animation snapshot reply had unexpected payload",
			"payload_type", reply.Type())
		return
	}
	offset := int64(auth.engine.Quality().HalfTripMs() + c.engine.Quality().HalfTripMs())
	states := make([]protocol.ActiveAnimationState, len(snapshot.AnimationStates))
	copy(states, snapshot.AnimationStates)
	for i := range states {
		if states[i].BasisTime != 0 {
			states[i].BasisTime += offset
		}
	}
	err = c.engine.Send(protocol.New(&protocol.SyncAnimations{AnimationStates: states}))
	if err != nil {
		c.logger.Debug("animation snapshot send failed", "error", err)
	}
}
