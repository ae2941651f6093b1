package session

import (
	"context"
	"log/slog"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// This file holds the Session methods the rule table binds as FromApp and
// FromClient hooks. Each one runs on the receiving engine's dispatch
// goroutine and takes the session lock itself for exactly the state it
// touches.

// creationPatch extracts the actor definition from a create-* payload.
func creationPatch(msg *protocol.Message) *protocol.ActorLike {
	switch p := msg.Payload.(type) {
	case *protocol.CreateEmpty:
		return &p.Actor
	case *protocol.CreateFromLibrary:
		return &p.Actor
	case *protocol.CreateFromPrefab:
		return &p.Actor
	}
	return nil
}

// cacheCreation records a new actor so it can be replayed to late joiners.
func (s *Session) cacheCreation(msg *protocol.Message) *protocol.Message {
	patch := creationPatch(msg)
	if patch == nil || patch.ID == "" {
		s.logger.Error("create message without actor id", "payload_type", msg.Type())
		return msg
	}
	s.mu.Lock()
	s.actors[patch.ID] = &SyncActor{
		ID:                   patch.ID,
		Creation:             msg,
		ActiveMediaInstances: make(map[string]*protocol.Message),
		ExclusiveToUser:      patch.ExclusiveToUser,
	}
	s.mu.Unlock()
	return msg
}

// cacheActorUpdate merges an app-side actor patch into the cached
// creation, so a late joiner receives the actor's current state in one
// message.
func (s *Session) cacheActorUpdate(msg *protocol.Message) *protocol.Message {
	actorID, patch := actorWriteBody(msg)
	if actorID == "" || patch == nil {
		return msg
	}
	s.mu.Lock()
	if a, ok := s.actors[actorID]; ok {
		if base := a.actorPatch(); base != nil {
			base.ApplyPatch(patch)
		}
	}
	s.mu.Unlock()
	return msg
}

// clientActorWrite enforces write authority on client-side actor patches.
// The authoritative client may write anything; any client may write an
// actor its own user currently grabs. Everything else drops silently.
// Accepted writes merge into the cache, mirror to the other clients as a
// correction, and forward upstream.
func (s *Session) clientActorWrite(c *Client, msg *protocol.Message) *protocol.Message {
	actorID, patch := actorWriteBody(msg)
	if actorID == "" || patch == nil {
		return nil
	}
	s.mu.Lock()
	a := s.actors[actorID]
	userID := c.UserID()
	allowed := c.Authoritative() ||
		(a != nil && a.GrabbedBy != "" && a.GrabbedBy == userID)
	if !allowed {
		s.mu.Unlock()
		return nil
	}
	if a != nil {
		if base := a.actorPatch(); base != nil {
			base.ApplyPatch(patch)
		}
	}
	s.mu.Unlock()

	if patch.Transform != nil {
		s.mirror(c, protocol.New(&protocol.ActorCorrection{
			ActorID:      actorID,
			AppTransform: patch.Transform,
		}))
	}
	return msg
}

// uncacheActors removes destroyed actors and their descendants.
func (s *Session) uncacheActors(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.DestroyActors)
	if !ok {
		return msg
	}
	s.mu.Lock()
	doomed := make(map[string]bool, len(p.ActorIDs))
	for _, id := range p.ActorIDs {
		doomed[id] = true
	}
	// Children of doomed actors are doomed too; iterate until the set
	// stops growing.
	for changed := true; changed; {
		changed = false
		for id, a := range s.actors {
			if !doomed[id] && doomed[a.ParentID()] {
				doomed[id] = true
				changed = true
			}
		}
	}
	for id := range doomed {
		delete(s.actors, id)
	}
	s.mu.Unlock()
	return msg
}

// cacheBehavior records the actor's latest behavior assignment.
func (s *Session) cacheBehavior(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.SetBehavior)
	if !ok {
		return msg
	}
	s.mu.Lock()
	if a, ok := s.actors[p.ActorID]; ok {
		if p.BehaviorType == "" || p.BehaviorType == "none" {
			a.Behavior = nil
		} else {
			a.Behavior = msg
		}
	}
	s.mu.Unlock()
	return msg
}

// cacheMediaState tracks running media instances per actor. Starts are
// cached, updates merge into the cached start, stops evict.
func (s *Session) cacheMediaState(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.SetMediaState)
	if !ok {
		return msg
	}
	s.mu.Lock()
	if a, ok := s.actors[p.ActorID]; ok {
		switch p.MediaCommand {
		case protocol.MediaCommandStop:
			delete(a.ActiveMediaInstances, p.ID)
		case protocol.MediaCommandUpdate:
			if prior, ok := a.ActiveMediaInstances[p.ID]; ok {
				pp := prior.Payload.(*protocol.SetMediaState)
				pp.Options = protocol.MergeJSON(pp.Options, p.Options)
			} else {
				a.ActiveMediaInstances[p.ID] = msg
			}
		default:
			a.ActiveMediaInstances[p.ID] = msg
		}
	}
	s.mu.Unlock()
	return msg
}

// cacheAssetBatch records a load-assets or create-asset message for
// replay.
func (s *Session) cacheAssetBatch(msg *protocol.Message) *protocol.Message {
	var containerID string
	switch p := msg.Payload.(type) {
	case *protocol.LoadAssets:
		containerID = p.ContainerID
	case *protocol.CreateAsset:
		containerID = p.ContainerID
	default:
		return msg
	}
	s.mu.Lock()
	s.assetBatches = append(s.assetBatches, &AssetBatch{
		ContainerID: containerID,
		Creation:    msg,
	})
	s.mu.Unlock()
	return msg
}

// uncacheAssetBatches drops every cached batch for an unloaded container.
func (s *Session) uncacheAssetBatches(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.UnloadAssets)
	if !ok {
		return msg
	}
	s.mu.Lock()
	kept := s.assetBatches[:0]
	for _, b := range s.assetBatches {
		if b.ContainerID != p.ContainerID {
			kept = append(kept, b)
		}
	}
	s.assetBatches = kept
	s.mu.Unlock()
	return msg
}

// cacheAssetUpdate merges an asset patch into the cached update for that
// asset, replayed after the batches during asset sync.
func (s *Session) cacheAssetUpdate(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.AssetUpdate)
	if !ok || p.Asset.ID == "" {
		return msg
	}
	s.mu.Lock()
	if prior, ok := s.assetUpdates[p.Asset.ID]; ok {
		mergeAssetPatch(&prior.Payload.(*protocol.AssetUpdate).Asset, &p.Asset)
	} else {
		s.assetUpdates[p.Asset.ID] = msg
		s.assetOrder = append(s.assetOrder, p.Asset.ID)
	}
	s.mu.Unlock()
	return msg
}

// cacheAnimation records a created animation on its actor.
func (s *Session) cacheAnimation(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.CreateAnimation)
	if !ok {
		return msg
	}
	s.mu.Lock()
	if a, ok := s.actors[p.Animation.ActorID]; ok {
		a.CreatedAnimations = append(a.CreatedAnimations, msg)
	}
	s.mu.Unlock()
	return msg
}

// uncacheAnimations drops destroyed animations, and any cached
// interpolations sharing their names.
func (s *Session) uncacheAnimations(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.DestroyAnimations)
	if !ok {
		return msg
	}
	names := make(map[string]bool, len(p.AnimationNames))
	for _, n := range p.AnimationNames {
		names[n] = true
	}
	all := len(p.AnimationNames) == 0

	s.mu.Lock()
	if a, ok := s.actors[p.ActorID]; ok {
		kept := a.CreatedAnimations[:0]
		for _, cm := range a.CreatedAnimations {
			body := cm.Payload.(*protocol.CreateAnimation)
			if !all && !names[body.Animation.Name] {
				kept = append(kept, cm)
			}
		}
		a.CreatedAnimations = kept

		keptInterp := a.ActiveInterpolations[:0]
		for _, im := range a.ActiveInterpolations {
			body := im.Payload.(*protocol.InterpolateActor)
			if !all && !names[body.AnimationName] {
				keptInterp = append(keptInterp, im)
			}
		}
		a.ActiveInterpolations = keptInterp
	}
	s.mu.Unlock()
	return msg
}

// clientAnimationWrite lets only the authoritative client patch playback
// state. Accepted writes mirror to the other clients and forward.
func (s *Session) clientAnimationWrite(c *Client, msg *protocol.Message) *protocol.Message {
	if !c.Authoritative() {
		return nil
	}
	s.mirror(c, protocol.New(msg.Payload))
	return msg
}

// cacheInterpolation tracks running interpolations so late joiners receive
// them unstarted and begin playback during animation sync.
func (s *Session) cacheInterpolation(msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.InterpolateActor)
	if !ok {
		return msg
	}
	s.mu.Lock()
	if a, ok := s.actors[p.ActorID]; ok {
		kept := a.ActiveInterpolations[:0]
		for _, im := range a.ActiveInterpolations {
			if im.Payload.(*protocol.InterpolateActor).AnimationName != p.AnimationName {
				kept = append(kept, im)
			}
		}
		a.ActiveInterpolations = kept
		if p.Enabled {
			a.ActiveInterpolations = append(a.ActiveInterpolations, msg)
		}
	}
	s.mu.Unlock()
	return msg
}

// clientUserJoined registers the user record, resolves the client's
// identity (releasing anything the desync preprocessor held), and
// forwards upstream.
func (s *Session) clientUserJoined(c *Client, msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.UserJoined)
	if !ok || p.User.ID == "" {
		return nil
	}
	s.mu.Lock()
	s.users[p.User.ID] = p.User
	s.mu.Unlock()
	c.resolveUser(p.User.ID)
	s.logger.Info("user joined", "client_id", c.ID(), "user_id", p.User.ID)
	return msg
}

// clientUserLeft removes a user record. A client may only retire its own
// user.
func (s *Session) clientUserLeft(c *Client, msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.UserLeft)
	if !ok || p.UserID != c.UserID() {
		return nil
	}
	s.mu.Lock()
	delete(s.users, p.UserID)
	s.mu.Unlock()
	return msg
}

// clientUserUpdate merges a user's self-patch. Patches for other users
// drop silently.
func (s *Session) clientUserUpdate(c *Client, msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.UserUpdate)
	if !ok || p.User.ID != c.UserID() {
		return nil
	}
	s.mu.Lock()
	existing, known := s.users[p.User.ID]
	if known {
		if p.User.Name != "" {
			existing.Name = p.User.Name
		}
		if len(p.User.Properties) > 0 {
			if existing.Properties == nil {
				existing.Properties = make(map[string]string, len(p.User.Properties))
			}
			for k, v := range p.User.Properties {
				existing.Properties[k] = v
			}
		}
		s.users[p.User.ID] = existing
	}
	s.mu.Unlock()
	return msg
}

// clientPerformAction forwards a user interaction, tracking grab state so
// grab ownership can gate actor writes.
func (s *Session) clientPerformAction(c *Client, msg *protocol.Message) *protocol.Message {
	p, ok := msg.Payload.(*protocol.PerformAction)
	if !ok {
		return nil
	}
	if p.ActionName == "grab" {
		s.mu.Lock()
		if a, ok := s.actors[p.TargetID]; ok {
			switch p.ActionState {
			case "started":
				a.GrabbedBy = c.UserID()
			case "stopped":
				if a.GrabbedBy == c.UserID() {
					a.GrabbedBy = ""
				}
			}
		}
		s.mu.Unlock()
	}
	return msg
}

// logOperationResult surfaces an unsolicited result from the app. Results
// answering a request never reach this hook; the pending-request
// machinery settles those.
func (s *Session) logOperationResult(msg *protocol.Message) *protocol.Message {
	logResultPayload(s.logger, "app", msg)
	return nil
}

func (s *Session) logClientOperationResult(c *Client, msg *protocol.Message) *protocol.Message {
	logResultPayload(s.logger.With("client_id", c.ID()), "client", msg)
	return nil
}

func logResultPayload(logger *slog.Logger, origin string, msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case *protocol.OperationResult:
		level := slog.LevelInfo
		if p.ResultCode == protocol.ResultError {
			level = slog.LevelError
		} else if p.ResultCode == protocol.ResultWarning {
			level = slog.LevelWarn
		}
		logger.Log(context.Background(), level, "operation result",
			"origin", origin, "result_code", p.ResultCode, "message", p.Message)
		logTraceLines(logger, p.Traces)
	case *protocol.MultiOperationResult:
		logger.Info("multi operation result",
			"origin", origin, "successes", p.Successes, "failures", p.Failures)
	}
}

// logTraces writes app diagnostics into the session log.
func (s *Session) logTraces(msg *protocol.Message) *protocol.Message {
	logTracePayload(s.logger, msg)
	return nil
}

func (s *Session) logClientTraces(c *Client, msg *protocol.Message) *protocol.Message {
	logTracePayload(s.logger.With("client_id", c.ID()), msg)
	// Client diagnostics are the app's to consume.
	return msg
}

func logTracePayload(logger *slog.Logger, msg *protocol.Message) {
	p, ok := msg.Payload.(*protocol.Traces)
	if !ok {
		return
	}
	logTraceLines(logger, p.Traces)
}

// logTraceLines writes each diagnostic line at its own severity.
func logTraceLines(logger *slog.Logger, traces []protocol.Trace) {
	for _, t := range traces {
		switch t.Severity {
		case "error":
			logger.Error(t.Message, "origin", "trace")
		case "warning":
			logger.Warn(t.Message, "origin", "trace")
		default:
			logger.Info(t.Message, "origin", "trace")
		}
	}
}
