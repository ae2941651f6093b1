package middleware

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/meshsync-dev/meshsync/pkg/engine"
	"github.com/meshsync-dev/meshsync/pkg/protocol"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "meshsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// defaultMetricsConfig returns the default metrics configuration.
func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "meshsync",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// metrics holds the Prometheus message metrics.
type metrics struct {
	sentTotal     *prometheus.CounterVec
	receivedTotal *prometheus.CounterVec
	repliesTotal  *prometheus.CounterVec
}

// globalMetrics is the singleton metrics instance against the default
// registry. Registering the same collectors twice panics, so every
// default-registry middleware shares it.
var (
	globalMetrics     *metrics
	globalMetricsOnce sync.Once
)

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	return &metrics{
		sentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_sent_total",
			Help:        "Total messages sent, by payload type",
			ConstLabels: config.ConstLabels,
		}, []string{"payload_type"}),

		receivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "messages_received_total",
			Help:        "Total messages received, by payload type",
			ConstLabels: config.ConstLabels,
		}, []string{"payload_type"}),

		repliesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "replies_total",
			Help:        "Total reply messages observed, by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction"}),
	}
}

// Prometheus creates middleware counting every message crossing an
// engine. With the default registry the underlying collectors are shared
// process-wide; pass WithRegistry to isolate them.
func Prometheus(opts ...MetricsOption) engine.Middleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	var m *metrics
	if config.Registry == prometheus.DefaultRegisterer {
		globalMetricsOnce.Do(func() {
			globalMetrics = initMetrics(config)
		})
		m = globalMetrics
	} else {
		m = initMetrics(config)
	}

	return engine.MiddlewareFuncs{
		Send: func(msg *protocol.Message) *protocol.Message {
			m.sentTotal.WithLabelValues(msg.Type()).Inc()
			if msg.IsReply() {
				m.repliesTotal.WithLabelValues("out").Inc()
			}
			return msg
		},
		Recv: func(msg *protocol.Message) *protocol.Message {
			m.receivedTotal.WithLabelValues(msg.Type()).Inc()
			if msg.IsReply() {
				m.repliesTotal.WithLabelValues("in").Inc()
			}
			return msg
		},
	}
}
