package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// Rule declares, for one payload type, how the message behaves around each
// synchronization stage and what happens when it crosses the client-session
// and session-app boundaries. The rule table is immutable process-wide
// configuration, built once and validated for completeness at init.
type Rule struct {
	Sync    SyncBehavior
	Client  ClientRule
	Session SessionRule
}

// SyncBehavior positions a payload type relative to a synchronization
// stage: what to do with it before that stage has run for a client, while
// it is running, and after it completed.
type SyncBehavior struct {
	Stage  SyncStage
	Before RuleAction
	During RuleAction
	After  RuleAction
}

// ClientRule holds the client-boundary hooks.
type ClientRule struct {
	// ReplyTimeout overrides the engine reply timeout for this type.
	// Zero means the engine default.
	ReplyTimeout time.Duration

	// BeforeQueue is the last chance to merge or cancel a message headed
	// for a client's join-time queue. Returning nil means the message was
	// coalesced into an already-queued one and must not be appended.
	// Called with the client's queue lock held.
	BeforeQueue func(c *Client, msg *protocol.Message) *protocol.Message

	// TargetUser resolves the user a message is exclusive to. ok=false
	// means the message is not user-specific. Messages for a user whose
	// identity a client has not resolved yet are held by the desync
	// preprocessor and flushed in order once user-joined arrives.
	TargetUser func(p protocol.Payload) (userID string, ok bool)
}

// SessionRule holds the session-boundary hooks. Either hook may rewrite
// the message; returning nil cancels propagation.
type SessionRule struct {
	// FromApp runs on every message the app sends, before fan-out to
	// clients. This is where creations, behaviors, animations, and media
	// state are cached into the session's canonical state.
	FromApp func(s *Session, msg *protocol.Message) *protocol.Message

	// FromClient runs on every message a client sends, before forwarding
	// upstream. This is where authority is enforced: most mutating
	// messages from a non-authoritative, non-grab-owning client are
	// silently dropped.
	FromClient func(s *Session, c *Client, msg *protocol.Message) *protocol.Message
}

// missingRule is the loud fallback for payload types with no explicit
// entry. It never crashes, but every hit is a defect: new payload types
// must be given an explicit policy.
var missingRule = Rule{
	Sync: SyncBehavior{Stage: StageAlways, Before: ActionError, During: ActionError, After: ActionError},
	Session: SessionRule{
		FromApp: func(s *Session, msg *protocol.Message) *protocol.Message {
			s.logger.Error("no rule for payload type", "payload_type", msg.Type())
			return nil
		},
		FromClient: func(s *Session, c *Client, msg *protocol.Message) *protocol.Message {
			s.logger.Error("no rule for payload type", "payload_type", msg.Type())
			return nil
		},
	},
}

// RuleFor returns the rule for a payload type, or the missing-rule
// sentinel for types outside the table.
func RuleFor(payloadType string) *Rule {
	if r, ok := rules[payloadType]; ok {
		return r
	}
	slog.Default().Error("missing rule", "payload_type", payloadType)
	return &missingRule
}

// ReplyTimeoutFor returns the per-type reply timeout override, or zero.
func ReplyTimeoutFor(payloadType string) time.Duration {
	if r, ok := rules[payloadType]; ok {
		return r.Client.ReplyTimeout
	}
	return 0
}

// ----------------------------------------------------------------------------
// Shared hook implementations
// ----------------------------------------------------------------------------

// alwaysAllow is the shape of unstaged, relayed-as-is traffic.
var alwaysAllow = SyncBehavior{Stage: StageAlways, Before: ActionAllow, During: ActionAllow, After: ActionAllow}

// neverRelay marks engine-level traffic (handshake, sync control) that must
// not cross the relay at all.
var neverRelay = SyncBehavior{Stage: StageAlways, Before: ActionError, During: ActionError, After: ActionError}

// staged builds the common staged behavior: before the stage the object
// does not exist for the client (ignore: the stage replay covers it),
// during the stage the message is deferred, after it flows directly.
func staged(stage SyncStage) SyncBehavior {
	return SyncBehavior{Stage: stage, Before: ActionIgnore, During: ActionQueue, After: ActionAllow}
}

// passFromApp relays an app message unchanged.
func passFromApp(s *Session, msg *protocol.Message) *protocol.Message { return msg }

// invalidFromClient drops a client message that has no business arriving
// from a client, loudly: this is a misbehaving or probing peer.
func invalidFromClient(s *Session, c *Client, msg *protocol.Message) *protocol.Message {
	s.logger.Error("unexpected payload from client",
		"payload_type", msg.Type(),
		"client_id", c.ID())
	return nil
}

// invalidFromApp mirrors invalidFromClient for session-generated types.
func invalidFromApp(s *Session, msg *protocol.Message) *protocol.Message {
	s.logger.Error("unexpected payload from app", "payload_type", msg.Type())
	return nil
}

// protocolLevel marks traffic consumed by the protocol phases themselves.
// Reaching a session hook means a phase leaked it; drop quietly.
func protocolLevel() SessionRule {
	return SessionRule{
		FromApp:    func(s *Session, msg *protocol.Message) *protocol.Message { return nil },
		FromClient: func(s *Session, c *Client, msg *protocol.Message) *protocol.Message { return nil },
	}
}

// authoritativeOnly forwards writes from the authoritative client and
// silently drops everyone else's. The drop is deliberate and unreported:
// surfacing it would hand probing clients a side channel.
func authoritativeOnly(s *Session, c *Client, msg *protocol.Message) *protocol.Message {
	if !c.Authoritative() {
		return nil
	}
	return msg
}

// coalesceActorPatch merges an actor-update or actor-correction into a
// queued message for the same actor, collapsing a burst of updates into
// the latest value instead of backing up the queue.
func coalesceActorPatch(c *Client, msg *protocol.Message) *protocol.Message {
	actorID, patch := actorWriteBody(msg)
	if actorID == "" {
		return msg
	}
	for _, queued := range c.queued {
		qid, qpatch := actorWriteBody(queued.Message)
		if qid != actorID || qpatch == nil {
			continue
		}
		if patch != nil {
			qpatch.ApplyPatch(patch)
		}
		return nil
	}
	return msg
}

// actorWriteBody extracts the actor id and patch from an update-like
// payload. Corrections are normalized to a transform-only patch.
func actorWriteBody(msg *protocol.Message) (string, *protocol.ActorLike) {
	switch p := msg.Payload.(type) {
	case *protocol.ActorUpdate:
		return p.Actor.ID, &p.Actor
	case *protocol.ActorCorrection:
		return p.ActorID, &protocol.ActorLike{ID: p.ActorID, Transform: p.AppTransform}
	}
	return "", nil
}

// coalesceAssetUpdate merges an asset-update into a queued one for the
// same asset.
func coalesceAssetUpdate(c *Client, msg *protocol.Message) *protocol.Message {
	update, ok := msg.Payload.(*protocol.AssetUpdate)
	if !ok {
		return msg
	}
	for _, queued := range c.queued {
		prior, ok := queued.Message.Payload.(*protocol.AssetUpdate)
		if !ok || prior.Asset.ID != update.Asset.ID {
			continue
		}
		mergeAssetPatch(&prior.Asset, &update.Asset)
		return nil
	}
	return msg
}

func mergeAssetPatch(base, patch *protocol.AssetLike) {
	if patch.Name != "" {
		base.Name = patch.Name
	}
	base.Source = protocol.MergeJSON(base.Source, patch.Source)
	base.Material = protocol.MergeJSON(base.Material, patch.Material)
	base.Mesh = protocol.MergeJSON(base.Mesh, patch.Mesh)
	base.Texture = protocol.MergeJSON(base.Texture, patch.Texture)
	base.Sound = protocol.MergeJSON(base.Sound, patch.Sound)
	base.AnimationData = protocol.MergeJSON(base.AnimationData, patch.AnimationData)
	base.Prefab = protocol.MergeJSON(base.Prefab, patch.Prefab)
}

// ----------------------------------------------------------------------------
// The table
// ----------------------------------------------------------------------------

// rules is assigned in init: the method-expression hook values reach back
// into RuleFor through the session hooks, so a composite literal here
// would form an initialization cycle.
var rules map[string]*Rule

func buildRules() map[string]*Rule {
	return map[string]*Rule{
		// Engine-level lifecycle traffic. The protocol phases consume these;
		// none of them may cross the relay.
		protocol.TypeHandshake:         {Sync: neverRelay, Session: protocolLevel()},
		protocol.TypeHandshakeReply:    {Sync: neverRelay, Session: protocolLevel()},
		protocol.TypeHandshakeComplete: {Sync: neverRelay, Session: protocolLevel()},
		protocol.TypeHeartbeat:         {Sync: alwaysAllow, Session: protocolLevel()},
		protocol.TypeHeartbeatReply:    {Sync: alwaysAllow, Session: protocolLevel()},
		protocol.TypeSyncRequest:       {Sync: neverRelay, Session: protocolLevel()},
		protocol.TypeSyncComplete:      {Sync: neverRelay, Session: protocolLevel()},

		// Actor lifecycle.
		protocol.TypeCreateEmpty: {
			Sync: staged(StageCreateActors),
			Session: SessionRule{
				FromApp:    (*Session).cacheCreation,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeCreateFromLibrary: {
			Sync: staged(StageCreateActors),
			Session: SessionRule{
				FromApp:    (*Session).cacheCreation,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeCreateFromPrefab: {
			Sync: staged(StageCreateActors),
			Client: ClientRule{
				// Prefab realization walks an asset hierarchy on the client.
				ReplyTimeout: 60 * time.Second,
			},
			Session: SessionRule{
				FromApp:    (*Session).cacheCreation,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeObjectSpawned: {
			// Always a reply; routed by the pending-request machinery.
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeActorUpdate: {
			Sync:   staged(StageCreateActors),
			Client: ClientRule{BeforeQueue: coalesceActorPatch},
			Session: SessionRule{
				FromApp:    (*Session).cacheActorUpdate,
				FromClient: (*Session).clientActorWrite,
			},
		},
		protocol.TypeActorCorrection: {
			Sync:   staged(StageCreateActors),
			Client: ClientRule{BeforeQueue: coalesceActorPatch},
			Session: SessionRule{
				FromApp:    (*Session).cacheActorUpdate,
				FromClient: (*Session).clientActorWrite,
			},
		},
		protocol.TypeDestroyActors: {
			Sync: staged(StageCreateActors),
			Session: SessionRule{
				FromApp:    (*Session).uncacheActors,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeSetBehavior: {
			Sync: staged(StageSetBehaviors),
			Session: SessionRule{
				FromApp:    (*Session).cacheBehavior,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeSetMediaState: {
			Sync: staged(StageActiveSoundInstances),
			Session: SessionRule{
				FromApp:    (*Session).cacheMediaState,
				FromClient: invalidFromClient,
			},
		},

		// Assets.
		protocol.TypeLoadAssets: {
			Sync:   staged(StageLoadAssets),
			Client: ClientRule{ReplyTimeout: 60 * time.Second},
			Session: SessionRule{
				FromApp:    (*Session).cacheAssetBatch,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeCreateAsset: {
			Sync: staged(StageLoadAssets),
			Session: SessionRule{
				FromApp:    (*Session).cacheAssetBatch,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeAssetsLoaded: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeUnloadAssets: {
			Sync: staged(StageLoadAssets),
			Session: SessionRule{
				FromApp:    (*Session).uncacheAssetBatches,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeAssetUpdate: {
			Sync:   staged(StageLoadAssets),
			Client: ClientRule{BeforeQueue: coalesceAssetUpdate},
			Session: SessionRule{
				FromApp:    (*Session).cacheAssetUpdate,
				FromClient: invalidFromClient,
			},
		},

		// Animation.
		protocol.TypeCreateAnimation: {
			Sync: staged(StageCreateAnimations),
			Session: SessionRule{
				FromApp:    (*Session).cacheAnimation,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeDestroyAnimations: {
			Sync: staged(StageCreateAnimations),
			Session: SessionRule{
				FromApp:    (*Session).uncacheAnimations,
				FromClient: invalidFromClient,
			},
		},
		protocol.TypeAnimationUpdate: {
			Sync:    staged(StageCreateAnimations),
			Session: SessionRule{FromApp: passFromApp, FromClient: authoritativeOnly},
		},
		protocol.TypeSetAnimationState: {
			Sync:    staged(StageSyncAnimations),
			Session: SessionRule{FromApp: passFromApp, FromClient: (*Session).clientAnimationWrite},
		},
		protocol.TypeSyncAnimations: {
			Sync:    staged(StageSyncAnimations),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeInterpolateActor: {
			Sync: staged(StageSyncAnimations),
			Session: SessionRule{
				FromApp:    (*Session).cacheInterpolation,
				FromClient: invalidFromClient,
			},
		},

		// Physics.
		protocol.TypePhysicsBridgeUpdate: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: authoritativeOnly},
		},
		protocol.TypePhysicsBridgeUpload: {
			Sync:    SyncBehavior{Stage: StageSyncAnimations, Before: ActionIgnore, During: ActionIgnore, After: ActionAllow},
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyCommands: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyMovePosition: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyMoveRotation: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyAddForce: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyAddForceAtPosition: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyAddTorque: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeRigidBodyAddRelativeTorque: {
			Sync:    staged(StageCreateActors),
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeCollisionEventRaised: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: passFromApp, FromClient: authoritativeOnly},
		},
		protocol.TypeTriggerEventRaised: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: passFromApp, FromClient: authoritativeOnly},
		},
		protocol.TypeSetAuthoritative: {
			// Session-generated; neither peer originates it.
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: invalidFromClient},
		},

		// Users.
		protocol.TypeUserJoined: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: (*Session).clientUserJoined},
		},
		protocol.TypeUserLeft: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: passFromApp, FromClient: (*Session).clientUserLeft},
		},
		protocol.TypeUserUpdate: {
			Sync: alwaysAllow,
			Client: ClientRule{
				TargetUser: func(p protocol.Payload) (string, bool) {
					return p.(*protocol.UserUpdate).User.ID, true
				},
			},
			Session: SessionRule{FromApp: passFromApp, FromClient: (*Session).clientUserUpdate},
		},
		protocol.TypePerformAction: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: passFromApp, FromClient: (*Session).clientPerformAction},
		},

		// App surface.
		protocol.TypeOperationResult: {
			Sync: alwaysAllow,
			Session: SessionRule{
				FromApp:    (*Session).logOperationResult,
				FromClient: (*Session).logClientOperationResult,
			},
		},
		protocol.TypeMultiOperationResult: {
			Sync: alwaysAllow,
			Session: SessionRule{
				FromApp:    (*Session).logOperationResult,
				FromClient: (*Session).logClientOperationResult,
			},
		},
		protocol.TypeTraces: {
			Sync: alwaysAllow,
			Session: SessionRule{
				FromApp:    (*Session).logTraces,
				FromClient: (*Session).logClientTraces,
			},
		},
		protocol.TypeShowDialog: {
			Sync: alwaysAllow,
			Client: ClientRule{
				// Dialogs wait on a human.
				ReplyTimeout: 5 * time.Minute,
				TargetUser: func(p protocol.Payload) (string, bool) {
					return p.(*protocol.ShowDialog).UserID, true
				},
			},
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeDialogResponse: {
			Sync:    alwaysAllow,
			Session: SessionRule{FromApp: invalidFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeAppToEngineRPC: {
			Sync: alwaysAllow,
			Client: ClientRule{
				TargetUser: func(p protocol.Payload) (string, bool) {
					rpc := p.(*protocol.AppToEngineRPC)
					return rpc.UserID, rpc.UserID != ""
				},
			},
			Session: SessionRule{FromApp: passFromApp, FromClient: invalidFromClient},
		},
		protocol.TypeEngineToAppRPC: {
			Sync: alwaysAllow,
			Session: SessionRule{
				FromApp: invalidFromApp,
				FromClient: func(s *Session, c *Client, msg *protocol.Message) *protocol.Message {
					return msg
				},
			},
		},
	}
}

// init builds the table, then validates it against the closed payload
// set: every type has an explicit rule and no rule names a type outside
// the set.
func init() {
	rules = buildRules()
	for _, typ := range protocol.Types() {
		if _, ok := rules[typ]; !ok {
			panic(fmt.Sprintf("session: payload type %q has no rule", typ))
		}
	}
	for typ := range rules {
		if !protocol.KnownType(typ) {
			panic(fmt.Sprintf("session: rule for unknown payload type %q", typ))
		}
	}
}
