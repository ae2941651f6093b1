// Package protocol defines the wire protocol for MeshSync sessions.
//
// Every frame on the wire is a JSON Message envelope:
//
//	{
//	  "id": "…",                // assigned by the sender if absent
//	  "replyToId": "…",         // set on replies, routes to a pending request
//	  "payload": { "type": "…", … },
//	  "awaitingResponse": true  // sender expects a reply to this message
//	}
//
// The payload is a closed tagged union keyed by the "type" string. Each
// variant is a Go struct registered in the payload registry; decoding an
// unknown type fails loudly rather than guessing.
//
// # Payload groups
//
//   - lifecycle: handshake, handshake-reply, handshake-complete, heartbeat,
//     heartbeat-reply, sync-request, sync-complete
//   - actors: create-empty, create-from-library, create-from-prefab,
//     object-spawned, actor-update, actor-correction, destroy-actors
//   - assets: load-assets, assets-loaded, unload-assets, create-asset,
//     asset-update
//   - animation: create-animation, destroy-animations, sync-animations,
//     set-animation-state, animation-update, interpolate-actor
//   - physics: physics-bridge-update, physics-bridge-upload,
//     rigidbody-commands, rigidbody-move-position, rigidbody-move-rotation,
//     rigidbody-add-force, rigidbody-add-force-at-position,
//     rigidbody-add-torque, rigidbody-add-relative-torque,
//     collision-event-raised, trigger-event-raised, set-authoritative
//   - users and app surface: user-joined, user-left, user-update,
//     perform-action, operation-result, multi-operation-result, traces,
//     show-dialog, dialog-response, app2engine-rpc, engine2app-rpc
//
// # Partial decoding
//
// The actor, asset, and animation object models are owned by the
// application, not by the sync engine. Payloads therefore decode only the
// fields the engine inspects (ids, parent ids, user exclusivity, grab and
// attachment state) into typed fields; everything else rides along as
// json.RawMessage and is relayed untouched.
//
// # File structure
//
//   - message.go: envelope, codec, constructors
//   - registry.go: payload type registry
//   - lifecycle.go: handshake/heartbeat/sync payloads
//   - actor.go: actor payloads and ActorLike
//   - asset.go: asset payloads
//   - animation.go: animation payloads
//   - physics.go: physics and rigid-body payloads
//   - app.go: user, RPC, trace, and dialog payloads
//   - merge.go: deep JSON patch merge (update coalescing)
package protocol
