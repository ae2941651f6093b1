package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
	DocURL   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "No meshsync.json was found at the given path or any parent directory.",
		DocURL:   "https://meshsync.dev/docs/errors/E100",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "meshsync.json could not be read or is not valid JSON.",
		DocURL:   "https://meshsync.dev/docs/errors/E101",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid listen port",
		Detail:   "The configured port is outside the valid range.",
		DocURL:   "https://meshsync.dev/docs/errors/E102",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Missing application endpoint",
		Detail:   "The relay needs an application WebSocket endpoint to dial when a session starts.",
		DocURL:   "https://meshsync.dev/docs/errors/E103",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid application endpoint",
		Detail:   "The application endpoint must be a ws:// or wss:// URL.",
		DocURL:   "https://meshsync.dev/docs/errors/E104",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Invalid log level",
		Detail:   "The log level must be one of debug, info, warn, or error.",
		DocURL:   "https://meshsync.dev/docs/errors/E105",
	},

	// ============================================
	// Transport Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryTransport,
		Message:  "Application unreachable",
		Detail:   "The relay could not open a WebSocket connection to the application endpoint.",
		DocURL:   "https://meshsync.dev/docs/errors/E120",
	},
	"E121": {
		Category: CategoryTransport,
		Message:  "WebSocket upgrade failed",
		Detail:   "The incoming HTTP request could not be upgraded to a WebSocket connection.",
		DocURL:   "https://meshsync.dev/docs/errors/E121",
	},
	"E122": {
		Category: CategoryTransport,
		Message:  "Listen failed",
		Detail:   "The relay could not bind its listen address. Another process may already hold the port.",
		DocURL:   "https://meshsync.dev/docs/errors/E122",
	},

	// ============================================
	// Protocol Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryProtocol,
		Message:  "Handshake failed",
		Detail:   "The peer did not complete the handshake exchange.",
		DocURL:   "https://meshsync.dev/docs/errors/E140",
	},
	"E141": {
		Category: CategoryProtocol,
		Message:  "Unrecognized payload type",
		Detail:   "The peer sent a payload type this version of the relay does not know.",
		DocURL:   "https://meshsync.dev/docs/errors/E141",
	},
	"E142": {
		Category: CategoryProtocol,
		Message:  "Reply timed out",
		Detail:   "The peer did not answer a request that awaits a response within the deadline.",
		DocURL:   "https://meshsync.dev/docs/errors/E142",
	},

	// ============================================
	// Session Errors (E160-E179)
	// ============================================

	"E160": {
		Category: CategorySession,
		Message:  "Session closed",
		Detail:   "The session shut down while the operation was in flight.",
		DocURL:   "https://meshsync.dev/docs/errors/E160",
	},
	"E161": {
		Category: CategorySession,
		Message:  "Initial synchronization failed",
		Detail:   "The application did not deliver its state stream after the session connected.",
		DocURL:   "https://meshsync.dev/docs/errors/E161",
	},
}

// Register adds a custom error template. Used by callers that define
// their own codes outside the built-in set.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// Lookup returns the template for a code, if registered.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
