package session

import (
	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// SyncActor is the session's canonical record of one actor, kept so the
// actor can be replayed to late joiners. Created by any create-* message
// from the app, mutated by updates and corrections, removed on destroy.
type SyncActor struct {
	ID string

	// Creation is the message that created the actor, with every update
	// received since merged into its actor patch.
	Creation *protocol.Message

	// Behavior is the latest set-behavior message, if any.
	Behavior *protocol.Message

	// CreatedAnimations are the create-animation messages for this actor.
	CreatedAnimations []*protocol.Message

	// ActiveInterpolations are running interpolate-actor messages. Replayed
	// to late joiners unstarted.
	ActiveInterpolations []*protocol.Message

	// ActiveMediaInstances maps media instance id to the set-media-state
	// message that started or last updated it.
	ActiveMediaInstances map[string]*protocol.Message

	// GrabbedBy is the user currently grabbing the actor, if any.
	GrabbedBy string

	// ExclusiveToUser restricts the actor to a single user's client.
	ExclusiveToUser string
}

// actorPatch returns the merged actor definition inside the creation
// message, or nil if the creation payload carries none.
func (a *SyncActor) actorPatch() *protocol.ActorLike {
	if a.Creation == nil {
		return nil
	}
	switch p := a.Creation.Payload.(type) {
	case *protocol.CreateEmpty:
		return &p.Actor
	case *protocol.CreateFromLibrary:
		return &p.Actor
	case *protocol.CreateFromPrefab:
		return &p.Actor
	}
	return nil
}

// ParentID returns the actor's parent id, or "" for a root actor.
func (a *SyncActor) ParentID() string {
	if patch := a.actorPatch(); patch != nil {
		return patch.ParentID
	}
	return ""
}

// AssetBatch records one load-assets or create-asset message so the batch
// can be replayed to late joiners. Removed when its container unloads.
type AssetBatch struct {
	ContainerID string

	// Creation is the message that loaded or created the batch.
	Creation *protocol.Message
}
