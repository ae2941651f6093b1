// Package session multiplexes N client connections against one upstream
// application connection, keeping every client eventually consistent with
// the session's canonical replicated state.
//
// A Session owns the authoritative caches (actors, asset batches, users)
// and one protocol engine per peer. Clients join asynchronously: a joining
// client is brought up to date by the staged synchronization protocol
// (assets, then actors depth-first, then animations, behaviors, media,
// and finally a latency-compensated animation snapshot) while live traffic
// for it is queued, coalesced, or ignored according to the rule table.
// After synchronization the client enters steady-state execution relay.
//
// Exactly one connected client is authoritative at any time: the one with
// the lowest join order. Only its physics and animation writes are trusted;
// they are mirrored to the other clients as corrections. Writes from
// anyone else are silently dropped unless that client's user owns the
// touched actor through a grab.
//
// All canonical state is guarded by a single mutex per Session, the
// session's one mutual-exclusion domain. Clients hold ids and defer every
// canonical mutation to the Session.
package session
