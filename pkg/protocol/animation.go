package protocol

import "encoding/json"

// AnimationLike is the engine's partial view of an animation definition.
type AnimationLike struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	ActorID   string          `json:"actorId,omitempty"`
	DataID    string          `json:"dataId,omitempty"`
	TargetIDs []string        `json:"targetIds,omitempty"`
	WrapMode  string          `json:"wrapMode,omitempty"`
	Weight    *float64        `json:"weight,omitempty"`
	Speed     *float64        `json:"speed,omitempty"`
	Time      *float64        `json:"time,omitempty"`
	Keyframes json.RawMessage `json:"keyframes,omitempty"`
	Events    json.RawMessage `json:"events,omitempty"`
}

// AnimationState is a partial animation playback state patch.
type AnimationState struct {
	Time    *float64 `json:"time,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// ActiveAnimationState names one animation and its playback state. BasisTime
// is the sender's wall clock, in Unix milliseconds, at which Time was
// sampled; relays add their measured one-way latency to it so playback
// appears continuous on the receiving side.
type ActiveAnimationState struct {
	ActorID       string         `json:"actorId"`
	AnimationName string         `json:"animationName"`
	BasisTime     int64          `json:"basisTime,omitempty"`
	State         AnimationState `json:"state"`
}

// CreateAnimation defines a new animation on an actor.
type CreateAnimation struct {
	Animation CreateAnimationBody `json:"animation"`
}

// CreateAnimationBody carries the animation definition.
type CreateAnimationBody struct {
	ActorID      string          `json:"actorId"`
	Name         string          `json:"animationName"`
	Keyframes    json.RawMessage `json:"keyframes,omitempty"`
	Events       json.RawMessage `json:"events,omitempty"`
	WrapMode     string          `json:"wrapMode,omitempty"`
	InitialState *AnimationState `json:"initialState,omitempty"`
}

func (*CreateAnimation) PayloadType() string { return TypeCreateAnimation }

// DestroyAnimations removes animations by actor.
type DestroyAnimations struct {
	ActorID        string   `json:"actorId"`
	AnimationNames []string `json:"animationNames,omitempty"`
}

func (*DestroyAnimations) PayloadType() string { return TypeDestroyAnimations }

// SyncAnimations carries a snapshot of every running animation. Requested
// from the authoritative client during a late join and relayed to the
// joining client with latency-adjusted basis times.
type SyncAnimations struct {
	AnimationStates []ActiveAnimationState `json:"animationStates"`
}

func (*SyncAnimations) PayloadType() string { return TypeSyncAnimations }

// SetAnimationState patches one animation's playback state.
type SetAnimationState struct {
	ActorID       string         `json:"actorId"`
	AnimationName string         `json:"animationName"`
	State         AnimationState `json:"state"`
}

func (*SetAnimationState) PayloadType() string { return TypeSetAnimationState }

// AnimationUpdate patches a standalone animation object.
type AnimationUpdate struct {
	Animation AnimationLike `json:"animation"`
}

func (*AnimationUpdate) PayloadType() string { return TypeAnimationUpdate }

// InterpolateActor tweens an actor property over a duration. Replayed to
// late joiners unstarted; playback begins once animation sync takes over.
type InterpolateActor struct {
	ActorID       string          `json:"actorId"`
	AnimationName string          `json:"animationName"`
	Value         json.RawMessage `json:"value,omitempty"`
	Curve         []float64       `json:"curve,omitempty"`
	Duration      float64         `json:"duration"`
	Enabled       bool            `json:"enabled"`
}

func (*InterpolateActor) PayloadType() string { return TypeInterpolateActor }
