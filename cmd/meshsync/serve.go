package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meshsync-dev/meshsync/internal/config"
	"github.com/meshsync-dev/meshsync/internal/errors"
	"github.com/meshsync-dev/meshsync/pkg/adapter"
	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/middleware"
	"github.com/meshsync-dev/meshsync/pkg/transport"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		port       int
		host       string
		app        string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the synchronization relay",
		Long: `Start the relay and accept client connections.

Clients connect to /ws carrying an X-Session-ID header. The first
client of a session makes the relay dial the application endpoint;
later clients with the same id join the running session and are
caught up from the relay's state cache.

Examples:
  meshsync serve
  meshsync serve --port=8080
  meshsync serve --app=ws://localhost:7000/sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, port, host, app)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to meshsync.json (default: search upward from cwd)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (default from meshsync.json)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Host to bind to (default from meshsync.json)")
	cmd.Flags().StringVarP(&app, "app", "a", "", "Application WebSocket endpoint (default from meshsync.json)")

	return cmd
}

func runServe(configPath string, port int, host, app string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Apply command-line overrides
	if port > 0 {
		cfg.Server.Port = port
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if app != "" {
		cfg.App.Endpoint = app
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := buildLogger(cfg)

	printBanner()
	fmt.Println()
	info("Listening on %s", cfg.ListenAddress())
	info("Application endpoint: %s", cfg.App.Endpoint)
	fmt.Println()

	a := adapter.New(appConnector(cfg), &adapter.Config{
		Logger:      logger,
		CheckOrigin: originCheck(cfg),
		WebSocket: &transport.WebSocketConfig{
			WriteTimeout: time.Duration(cfg.Transport.WriteTimeoutSeconds) * time.Second,
			PongTimeout:  time.Duration(cfg.Transport.PongTimeoutSeconds) * time.Second,
		},
		Middleware: observability(cfg),
	})

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get(cfg.Observability.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if cfg.Observability.Metrics {
		r.Handle(cfg.Observability.MetricsPath, promhttp.Handler())
	}
	if cfg.Server.StaticDir != "" {
		fs := http.FileServer(http.Dir(cfg.Server.StaticDir))
		r.Handle("/static/*", http.StripPrefix("/static/", fs))
	}
	r.Mount("/", a.Routes())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Set up graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Error channel for ListenAndServe
	errCh := make(chan error, 1)

	go func() {
		logger.Info("relay starting", "address", cfg.ListenAddress())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			return errors.New("E122").Wrap(err)
		}
		return nil

	case <-shutdown:
		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		// Close sessions first so clients see a clean close frame.
		if err := a.Shutdown(ctx); err != nil {
			logger.Error("session shutdown error", "error", err)
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
			return err
		}
		logger.Info("relay shutdown complete")
		return nil
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.LoadFromWorkingDir()
}

// appConnector dials the application endpoint for a new session.
func appConnector(cfg *config.Config) adapter.AppConnector {
	return func(ctx context.Context, sessionID string) (transport.Conn, error) {
		url, err := cfg.AppURL(sessionID)
		if err != nil {
			return nil, err
		}
		header := http.Header{}
		for k, v := range cfg.App.Headers {
			header.Set(k, v)
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, errors.New("E120").
				WithDetail("Dialing " + url + " failed").
				Wrap(err)
		}
		return transport.NewWebSocketConn(conn, &transport.WebSocketConfig{
			WriteTimeout: time.Duration(cfg.Transport.WriteTimeoutSeconds) * time.Second,
			PongTimeout:  time.Duration(cfg.Transport.PongTimeoutSeconds) * time.Second,
		}), nil
	}
}

func originCheck(cfg *config.Config) func(*http.Request) bool {
	if len(cfg.Server.AllowedOrigins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return cfg.OriginAllowed(r.Header.Get("Origin"))
	}
}

func observability(cfg *config.Config) []engine.Middleware {
	var mws []engine.Middleware
	if cfg.Observability.Metrics {
		mws = append(mws, middleware.Prometheus())
	}
	if cfg.Observability.Tracing {
		mws = append(mws, middleware.OpenTelemetry())
	}
	return mws
}

func buildLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
