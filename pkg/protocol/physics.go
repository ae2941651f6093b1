package protocol

import "encoding/json"

// PhysicsBridgeUpdate streams rigid-body transforms from the authoritative
// client toward the session.
type PhysicsBridgeUpdate struct {
	Time       float64           `json:"time"`
	Transforms []json.RawMessage `json:"transforms,omitempty"`
}

func (*PhysicsBridgeUpdate) PayloadType() string { return TypePhysicsBridgeUpdate }

// PhysicsBridgeUpload streams server-computed transforms down to clients.
type PhysicsBridgeUpload struct {
	Time       float64           `json:"time"`
	Transforms []json.RawMessage `json:"transforms,omitempty"`
}

func (*PhysicsBridgeUpload) PayloadType() string { return TypePhysicsBridgeUpload }

// RigidBodyCommands batches raw rigid-body commands for one actor.
type RigidBodyCommands struct {
	ActorID         string            `json:"actorId"`
	CommandPayloads []json.RawMessage `json:"commandPayloads"`
}

func (*RigidBodyCommands) PayloadType() string { return TypeRigidBodyCommands }

// RigidBodyMovePosition moves a kinematic rigid body to a position.
type RigidBodyMovePosition struct {
	ActorID  string          `json:"actorId"`
	Position json.RawMessage `json:"position"`
}

func (*RigidBodyMovePosition) PayloadType() string { return TypeRigidBodyMovePosition }

// RigidBodyMoveRotation rotates a kinematic rigid body.
type RigidBodyMoveRotation struct {
	ActorID  string          `json:"actorId"`
	Rotation json.RawMessage `json:"rotation"`
}

func (*RigidBodyMoveRotation) PayloadType() string { return TypeRigidBodyMoveRotation }

// RigidBodyAddForce applies a force to a rigid body.
type RigidBodyAddForce struct {
	ActorID string          `json:"actorId"`
	Force   json.RawMessage `json:"force"`
}

func (*RigidBodyAddForce) PayloadType() string { return TypeRigidBodyAddForce }

// RigidBodyAddForceAtPosition applies a force at a world position.
type RigidBodyAddForceAtPosition struct {
	ActorID  string          `json:"actorId"`
	Force    json.RawMessage `json:"force"`
	Position json.RawMessage `json:"position"`
}

func (*RigidBodyAddForceAtPosition) PayloadType() string {
	return TypeRigidBodyAddForceAtPosition
}

// RigidBodyAddTorque applies a torque to a rigid body.
type RigidBodyAddTorque struct {
	ActorID string          `json:"actorId"`
	Torque  json.RawMessage `json:"torque"`
}

func (*RigidBodyAddTorque) PayloadType() string { return TypeRigidBodyAddTorque }

// RigidBodyAddRelativeTorque applies a torque in the body's local frame.
type RigidBodyAddRelativeTorque struct {
	ActorID        string          `json:"actorId"`
	RelativeTorque json.RawMessage `json:"relativeTorque"`
}

func (*RigidBodyAddRelativeTorque) PayloadType() string {
	return TypeRigidBodyAddRelativeTorque
}

// CollisionEventRaised reports a collision observed by the authoritative
// client for an actor with a collision subscription.
type CollisionEventRaised struct {
	ActorID       string          `json:"actorId"`
	EventType     string          `json:"eventType"`
	CollisionData json.RawMessage `json:"collisionData,omitempty"`
}

func (*CollisionEventRaised) PayloadType() string { return TypeCollisionEventRaised }

// TriggerEventRaised reports a trigger volume event.
type TriggerEventRaised struct {
	ActorID      string `json:"actorId"`
	EventType    string `json:"eventType"`
	OtherActorID string `json:"otherActorId,omitempty"`
}

func (*TriggerEventRaised) PayloadType() string { return TypeTriggerEventRaised }

// SetAuthoritative tells a client whether it is the session's authoritative
// peer. Sent on election and on every reassignment.
type SetAuthoritative struct {
	Authoritative bool `json:"authoritative"`
}

func (*SetAuthoritative) PayloadType() string { return TypeSetAuthoritative }
