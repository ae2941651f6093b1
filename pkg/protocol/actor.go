package protocol

import "encoding/json"

// ActorLike is the engine's partial view of an actor definition or patch.
// Only fields the sync engine routes on are typed; the rest of the object
// model belongs to the application and is relayed opaquely.
type ActorLike struct {
	ID              string          `json:"id"`
	ParentID        string          `json:"parentId,omitempty"`
	Name            string          `json:"name,omitempty"`
	Tag             string          `json:"tag,omitempty"`
	ExclusiveToUser string          `json:"exclusiveToUser,omitempty"`
	Owner           string          `json:"owner,omitempty"`
	Grabbable       *bool           `json:"grabbable,omitempty"`
	Subscriptions   []string        `json:"subscriptions,omitempty"`
	Attachment      *Attachment     `json:"attachment,omitempty"`
	Transform       json.RawMessage `json:"transform,omitempty"`
	Appearance      json.RawMessage `json:"appearance,omitempty"`
	RigidBody       json.RawMessage `json:"rigidBody,omitempty"`
	Collider        json.RawMessage `json:"collider,omitempty"`
	Light           json.RawMessage `json:"light,omitempty"`
	Text            json.RawMessage `json:"text,omitempty"`
	LookAt          json.RawMessage `json:"lookAt,omitempty"`
}

// Attachment binds an actor to a point on a user's avatar.
type Attachment struct {
	UserID      string `json:"userId,omitempty"`
	AttachPoint string `json:"attachPoint,omitempty"`
}

// ApplyPatch merges patch into a, field by field. Opaque fields are
// deep-merged as JSON objects so a partial transform patch does not erase
// components the earlier patch carried.
func (a *ActorLike) ApplyPatch(patch *ActorLike) {
	if patch == nil {
		return
	}
	if patch.ParentID != "" {
		a.ParentID = patch.ParentID
	}
	if patch.Name != "" {
		a.Name = patch.Name
	}
	if patch.Tag != "" {
		a.Tag = patch.Tag
	}
	if patch.ExclusiveToUser != "" {
		a.ExclusiveToUser = patch.ExclusiveToUser
	}
	if patch.Owner != "" {
		a.Owner = patch.Owner
	}
	if patch.Grabbable != nil {
		a.Grabbable = patch.Grabbable
	}
	if patch.Subscriptions != nil {
		a.Subscriptions = patch.Subscriptions
	}
	if patch.Attachment != nil {
		a.Attachment = patch.Attachment
	}
	a.Transform = MergeJSON(a.Transform, patch.Transform)
	a.Appearance = MergeJSON(a.Appearance, patch.Appearance)
	a.RigidBody = MergeJSON(a.RigidBody, patch.RigidBody)
	a.Collider = MergeJSON(a.Collider, patch.Collider)
	a.Light = MergeJSON(a.Light, patch.Light)
	a.Text = MergeJSON(a.Text, patch.Text)
	a.LookAt = MergeJSON(a.LookAt, patch.LookAt)
}

// CreateEmpty creates a bare actor.
type CreateEmpty struct {
	Actor ActorLike `json:"actor"`
}

func (*CreateEmpty) PayloadType() string { return TypeCreateEmpty }

// CreateFromLibrary instantiates an actor from a host library resource.
type CreateFromLibrary struct {
	ResourceID string    `json:"resourceId"`
	Actor      ActorLike `json:"actor"`
}

func (*CreateFromLibrary) PayloadType() string { return TypeCreateFromLibrary }

// CreateFromPrefab instantiates an actor hierarchy from a loaded prefab.
type CreateFromPrefab struct {
	PrefabID       string    `json:"prefabId"`
	CollisionLayer string    `json:"collisionLayer,omitempty"`
	Actor          ActorLike `json:"actor"`
}

func (*CreateFromPrefab) PayloadType() string { return TypeCreateFromPrefab }

// ObjectSpawned reports the actors and animations realized by a create
// request. Sent as a reply to the corresponding create payload.
type ObjectSpawned struct {
	Result     OperationResultBody `json:"result"`
	Actors     []ActorLike         `json:"actors,omitempty"`
	Animations []AnimationLike     `json:"animations,omitempty"`
}

func (*ObjectSpawned) PayloadType() string { return TypeObjectSpawned }

// ActorUpdate patches an existing actor.
type ActorUpdate struct {
	Actor ActorLike `json:"actor"`
}

func (*ActorUpdate) PayloadType() string { return TypeActorUpdate }

// ActorCorrection is an authoritative client's transform write, relayed to
// followers for smooth interpolation instead of a hard snap.
type ActorCorrection struct {
	ActorID      string          `json:"actorId"`
	AppTransform json.RawMessage `json:"appTransform,omitempty"`
}

func (*ActorCorrection) PayloadType() string { return TypeActorCorrection }

// DestroyActors removes actors (and their descendants) from the session.
type DestroyActors struct {
	ActorIDs []string `json:"actorIds"`
}

func (*DestroyActors) PayloadType() string { return TypeDestroyActors }

// SetBehavior assigns an interaction behavior (button, target, none) to an
// actor.
type SetBehavior struct {
	ActorID      string `json:"actorId"`
	BehaviorType string `json:"behaviorType"`
}

func (*SetBehavior) PayloadType() string { return TypeSetBehavior }

// SetMediaState starts, updates, or stops a media instance on an actor.
type SetMediaState struct {
	ID           string          `json:"id"`
	ActorID      string          `json:"actorId"`
	MediaAssetID string          `json:"mediaAssetId,omitempty"`
	MediaCommand string          `json:"mediaCommand"`
	Options      json.RawMessage `json:"options,omitempty"`
}

func (*SetMediaState) PayloadType() string { return TypeSetMediaState }

// Media commands.
const (
	MediaCommandStart  = "start"
	MediaCommandUpdate = "update"
	MediaCommandStop   = "stop"
)
