// Package errors provides structured, actionable error messages for the
// relay's operator-facing surfaces.
//
// The errors package implements an error system that:
//   - Explains what went wrong in plain language
//   - Suggests how to fix issues
//   - Links to documentation for deeper understanding
//
// # Error Categories
//
// Errors are organized into categories:
//   - config: meshsync.json problems (missing file, bad values)
//   - transport: connection problems (dial failures, failed upgrades)
//   - protocol: wire protocol errors (handshake failures, timeouts)
//   - session: session lifecycle errors
//   - cli: command-line usage errors
//
// # Error Codes
//
// Each error has a unique code (e.g., "E100") that maps to:
//   - A short message describing the error
//   - A detailed explanation
//   - A documentation URL
//
// # Usage
//
//	err := errors.New("E103").
//	    WithSuggestion("Set app.endpoint in meshsync.json or pass --app")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR E103: Missing application endpoint
//	//
//	//   The relay needs an application WebSocket endpoint to dial when a
//	//   session starts.
//	//
//	//   Hint: Set app.endpoint in meshsync.json or pass --app
//	//
//	//   Learn more: https://meshsync.dev/docs/errors/E103
package errors
