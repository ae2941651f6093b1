// Package middleware provides observability middleware for protocol
// engines: Prometheus message metrics and OpenTelemetry span emission.
//
// Both middlewares observe traffic without altering it; they always pass
// the message through.
//
// # File structure
//
//   - metrics.go: Prometheus counters for sent and received messages
//   - otel.go: per-message OpenTelemetry spans
package middleware
