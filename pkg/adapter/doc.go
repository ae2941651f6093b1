// Package adapter exposes sessions over HTTP. It upgrades incoming
// WebSocket connections, resolves the session each client belongs to
// from the X-Session-ID header, dials the application for a session's
// first client, and hands the connection to the session layer.
//
// # File structure
//
//   - adapter.go: HTTP routes, session lookup and lifecycle, gauges
package adapter
