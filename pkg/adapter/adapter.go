package adapter

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/session"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

// SessionHeader carries the session identity a client wants to join. A
// missing or malformed value yields a fresh session.
const SessionHeader = "X-Session-ID"

// ErrShuttingDown reports a connection attempt during shutdown.
var ErrShuttingDown = errors.New("adapter: shutting down")

// AppConnector dials the application side for a new session and returns
// the established connection.
type AppConnector func(ctx context.Context, sessionID string) (transport.Conn, error)

// Config tunes the adapter.
type Config struct {
	// Logger receives adapter and session logs. Default: slog.Default().
	Logger *slog.Logger

	// CheckOrigin overrides the WebSocket origin check. Default: allow
	// same-origin only (the gorilla default).
	CheckOrigin func(r *http.Request) bool

	// WebSocket tunes accepted connections.
	WebSocket *transport.WebSocketConfig

	// Middleware is attached to every engine the adapter creates, both
	// client-facing and application-facing.
	Middleware []engine.Middleware

	// Registry is the Prometheus registry for adapter gauges.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// Adapter accepts WebSocket clients and multiplexes them onto sessions.
// Clients carrying the same session id share one session and one
// application connection; a session's first client creates it.
type Adapter struct {
	connector  AppConnector
	logger     *slog.Logger
	wsConfig   *transport.WebSocketConfig
	middleware []engine.Middleware
	upgrader   websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	closed   bool
}

// sessionEntry tracks one session slot. ready resolves once the app
// connection attempt finished, with either sess or err set.
type sessionEntry struct {
	ready chan struct{}
	sess  *session.Session
	err   error
}

// New creates an adapter that uses connector to reach the application.
func New(connector AppConnector, config *Config) *Adapter {
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := config.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		connector:  connector,
		logger:     logger.With("component", "adapter"),
		wsConfig:   config.WebSocket,
		middleware: config.Middleware,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     config.CheckOrigin,
		},
		sessions: make(map[string]*sessionEntry),
	}
	a.registerGauges(registry)
	return a
}

func (a *Adapter) registerGauges(registry prometheus.Registerer) {
	factory := promauto.With(registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshsync",
		Name:      "active_sessions",
		Help:      "Sessions currently running",
	}, func() float64 {
		a.mu.Lock()
		defer a.mu.Unlock()
		n := 0
		for _, entry := range a.sessions {
			if entry.sess != nil {
				n++
			}
		}
		return float64(n)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "meshsync",
		Name:      "connected_clients",
		Help:      "Clients currently connected across all sessions",
	}, func() float64 {
		a.mu.Lock()
		entries := make([]*sessionEntry, 0, len(a.sessions))
		for _, entry := range a.sessions {
			entries = append(entries, entry)
		}
		a.mu.Unlock()
		n := 0
		for _, entry := range entries {
			if entry.sess != nil {
				n += entry.sess.ClientCount()
			}
		}
		return float64(n)
	})
}

// Routes returns the adapter's HTTP routes.
func (a *Adapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", a.handleWebSocket)
	return r
}

// ServeHTTP serves the adapter routes.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Routes().ServeHTTP(w, r)
}

// SessionCount returns the number of running sessions.
func (a *Adapter) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, entry := range a.sessions {
		if entry.sess != nil {
			n++
		}
	}
	return n
}

// handleWebSocket admits one client connection.
func (a *Adapter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionIDFrom(r)

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	wsConn := transport.NewWebSocketConn(conn, a.wsConfig)

	sess, err := a.sessionFor(r.Context(), sessionID)
	if err != nil {
		a.logger.Error("session unavailable",
			"session_id", sessionID, "error", err)
		wsConn.Close()
		return
	}

	client := session.NewClient(wsConn, a.logger.With("session_id", sessionID), a.middleware...)
	// Join drives the handshake and staged replay; every await inside is
	// bounded by engine reply timeouts, so no outer deadline here.
	if err := sess.Join(context.Background(), client); err != nil {
		a.logger.Error("client join failed",
			"session_id", sessionID, "error", err)
		client.Leave()
	}
}

// sessionIDFrom resolves the requested session identity. Anything that is
// not a well-formed UUID gets a fresh one, so a garbled header starts a
// new session instead of hijacking an existing one.
func sessionIDFrom(r *http.Request) string {
	header := r.Header.Get(SessionHeader)
	if header == "" {
		return uuid.NewString()
	}
	id, err := uuid.Parse(header)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// sessionFor returns the session for an id, creating it when this is the
// first client. Concurrent firsts race to one slot; losers wait on the
// winner's connection attempt.
func (a *Adapter) sessionFor(ctx context.Context, sessionID string) (*session.Session, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if entry, ok := a.sessions[sessionID]; ok {
		a.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.sess, nil
	}
	entry := &sessionEntry{ready: make(chan struct{})}
	a.sessions[sessionID] = entry
	a.mu.Unlock()

	entry.sess, entry.err = a.connectSession(ctx, sessionID)
	close(entry.ready)
	if entry.err != nil {
		a.removeEntry(sessionID)
		return nil, entry.err
	}
	return entry.sess, nil
}

func (a *Adapter) connectSession(ctx context.Context, sessionID string) (*session.Session, error) {
	conn, err := a.connector(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess, err := session.Connect(ctx, sessionID, conn, a.logger, a.middleware...)
	if err != nil {
		return nil, err
	}
	sess.SetOnEmpty(func(*session.Session) {
		a.removeEntry(sessionID)
	})
	a.logger.Info("session started", "session_id", sessionID)
	return sess, nil
}

func (a *Adapter) removeEntry(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}

// Shutdown closes every session and refuses new connections.
func (a *Adapter) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	entries := make([]*sessionEntry, 0, len(a.sessions))
	for _, entry := range a.sessions {
		entries = append(entries, entry)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, entry := range entries {
			select {
			case <-entry.ready:
			default:
				continue
			}
			if entry.sess != nil {
				entry.sess.Close()
			}
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
