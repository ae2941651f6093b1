// Package engine implements the per-connection protocol engine.
//
// An Engine owns one transport connection. Outgoing messages run through an
// ordered middleware chain, get an id if they lack one, and — when a reply
// is expected — register a pending request with a per-payload-type timeout.
// Incoming frames run through the middleware chain and are then either
// routed to the pending request named by their replyToId or dispatched to
// the currently listening handler.
//
// Protocol phases (handshake, synchronization, execution) are handlers
// swapped onto the engine one at a time; frames that arrive between
// handlers are buffered and flushed, in order, to the next handler.
//
// A reply timeout closes the connection: a timed-out peer is assumed
// unreachable and there is no resume. Closing the connection rejects every
// outstanding request and completes the engine.
package engine
