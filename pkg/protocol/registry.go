package protocol

import "sort"

// Payload type discriminants. This is the closed wire vocabulary: every
// type listed here has a registry factory and a rule-table entry, and the
// rule table is validated against this set at startup.
const (
	TypeHandshake         = "handshake"
	TypeHandshakeReply    = "handshake-reply"
	TypeHandshakeComplete = "handshake-complete"
	TypeHeartbeat         = "heartbeat"
	TypeHeartbeatReply    = "heartbeat-reply"
	TypeSyncRequest       = "sync-request"
	TypeSyncComplete      = "sync-complete"

	TypeCreateEmpty       = "create-empty"
	TypeCreateFromLibrary = "create-from-library"
	TypeCreateFromPrefab  = "create-from-prefab"
	TypeObjectSpawned     = "object-spawned"
	TypeActorUpdate       = "actor-update"
	TypeActorCorrection   = "actor-correction"
	TypeDestroyActors     = "destroy-actors"
	TypeSetBehavior       = "set-behavior"
	TypeSetMediaState     = "set-media-state"

	TypeLoadAssets   = "load-assets"
	TypeAssetsLoaded = "assets-loaded"
	TypeUnloadAssets = "unload-assets"
	TypeCreateAsset  = "create-asset"
	TypeAssetUpdate  = "asset-update"

	TypeCreateAnimation   = "create-animation"
	TypeDestroyAnimations = "destroy-animations"
	TypeSyncAnimations    = "sync-animations"
	TypeSetAnimationState = "set-animation-state"
	TypeAnimationUpdate   = "animation-update"
	TypeInterpolateActor  = "interpolate-actor"

	TypePhysicsBridgeUpdate         = "physics-bridge-update"
	TypePhysicsBridgeUpload         = "physics-bridge-upload"
	TypeRigidBodyCommands           = "rigidbody-commands"
	TypeRigidBodyMovePosition       = "rigidbody-move-position"
	TypeRigidBodyMoveRotation       = "rigidbody-move-rotation"
	TypeRigidBodyAddForce           = "rigidbody-add-force"
	TypeRigidBodyAddForceAtPosition = "rigidbody-add-force-at-position"
	TypeRigidBodyAddTorque          = "rigidbody-add-torque"
	TypeRigidBodyAddRelativeTorque  = "rigidbody-add-relative-torque"
	TypeCollisionEventRaised        = "collision-event-raised"
	TypeTriggerEventRaised          = "trigger-event-raised"
	TypeSetAuthoritative            = "set-authoritative"

	TypeUserJoined           = "user-joined"
	TypeUserLeft             = "user-left"
	TypeUserUpdate           = "user-update"
	TypePerformAction        = "perform-action"
	TypeOperationResult      = "operation-result"
	TypeMultiOperationResult = "multi-operation-result"
	TypeTraces               = "traces"
	TypeShowDialog           = "show-dialog"
	TypeDialogResponse       = "dialog-response"
	TypeAppToEngineRPC       = "app2engine-rpc"
	TypeEngineToAppRPC       = "engine2app-rpc"
)

// payloadFactories maps each discriminant to a fresh-instance constructor.
var payloadFactories = map[string]func() Payload{
	TypeHandshake:         func() Payload { return &Handshake{} },
	TypeHandshakeReply:    func() Payload { return &HandshakeReply{} },
	TypeHandshakeComplete: func() Payload { return &HandshakeComplete{} },
	TypeHeartbeat:         func() Payload { return &Heartbeat{} },
	TypeHeartbeatReply:    func() Payload { return &HeartbeatReply{} },
	TypeSyncRequest:       func() Payload { return &SyncRequest{} },
	TypeSyncComplete:      func() Payload { return &SyncComplete{} },

	TypeCreateEmpty:       func() Payload { return &CreateEmpty{} },
	TypeCreateFromLibrary: func() Payload { return &CreateFromLibrary{} },
	TypeCreateFromPrefab:  func() Payload { return &CreateFromPrefab{} },
	TypeObjectSpawned:     func() Payload { return &ObjectSpawned{} },
	TypeActorUpdate:       func() Payload { return &ActorUpdate{} },
	TypeActorCorrection:   func() Payload { return &ActorCorrection{} },
	TypeDestroyActors:     func() Payload { return &DestroyActors{} },
	TypeSetBehavior:       func() Payload { return &SetBehavior{} },
	TypeSetMediaState:     func() Payload { return &SetMediaState{} },

	TypeLoadAssets:   func() Payload { return &LoadAssets{} },
	TypeAssetsLoaded: func() Payload { return &AssetsLoaded{} },
	TypeUnloadAssets: func() Payload { return &UnloadAssets{} },
	TypeCreateAsset:  func() Payload { return &CreateAsset{} },
	TypeAssetUpdate:  func() Payload { return &AssetUpdate{} },

	TypeCreateAnimation:   func() Payload { return &CreateAnimation{} },
	TypeDestroyAnimations: func() Payload { return &DestroyAnimations{} },
	TypeSyncAnimations:    func() Payload { return &SyncAnimations{} },
	TypeSetAnimationState: func() Payload { return &SetAnimationState{} },
	TypeAnimationUpdate:   func() Payload { return &AnimationUpdate{} },
	TypeInterpolateActor:  func() Payload { return &InterpolateActor{} },

	TypePhysicsBridgeUpdate:         func() Payload { return &PhysicsBridgeUpdate{} },
	TypePhysicsBridgeUpload:         func() Payload { return &PhysicsBridgeUpload{} },
	TypeRigidBodyCommands:           func() Payload { return &RigidBodyCommands{} },
	TypeRigidBodyMovePosition:       func() Payload { return &RigidBodyMovePosition{} },
	TypeRigidBodyMoveRotation:       func() Payload { return &RigidBodyMoveRotation{} },
	TypeRigidBodyAddForce:           func() Payload { return &RigidBodyAddForce{} },
	TypeRigidBodyAddForceAtPosition: func() Payload { return &RigidBodyAddForceAtPosition{} },
	TypeRigidBodyAddTorque:          func() Payload { return &RigidBodyAddTorque{} },
	TypeRigidBodyAddRelativeTorque:  func() Payload { return &RigidBodyAddRelativeTorque{} },
	TypeCollisionEventRaised:        func() Payload { return &CollisionEventRaised{} },
	TypeTriggerEventRaised:          func() Payload { return &TriggerEventRaised{} },
	TypeSetAuthoritative:            func() Payload { return &SetAuthoritative{} },

	TypeUserJoined:           func() Payload { return &UserJoined{} },
	TypeUserLeft:             func() Payload { return &UserLeft{} },
	TypeUserUpdate:           func() Payload { return &UserUpdate{} },
	TypePerformAction:        func() Payload { return &PerformAction{} },
	TypeOperationResult:      func() Payload { return &OperationResult{} },
	TypeMultiOperationResult: func() Payload { return &MultiOperationResult{} },
	TypeTraces:               func() Payload { return &Traces{} },
	TypeShowDialog:           func() Payload { return &ShowDialog{} },
	TypeDialogResponse:       func() Payload { return &DialogResponse{} },
	TypeAppToEngineRPC:       func() Payload { return &AppToEngineRPC{} },
	TypeEngineToAppRPC:       func() Payload { return &EngineToAppRPC{} },
}

// NewPayload returns a fresh zero payload for the given type.
func NewPayload(typ string) (Payload, bool) {
	factory, ok := payloadFactories[typ]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// KnownType reports whether typ is part of the closed payload set.
func KnownType(typ string) bool {
	_, ok := payloadFactories[typ]
	return ok
}

// Types returns every registered payload type in sorted order.
func Types() []string {
	out := make([]string, 0, len(payloadFactories))
	for typ := range payloadFactories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}
