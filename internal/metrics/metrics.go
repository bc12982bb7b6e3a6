// Package metrics exposes client activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/omochice/roomchat/internal/flood"
	"github.com/omochice/roomchat/internal/session"
	"github.com/omochice/roomchat/pkg/protocol"
)

// Config configures the metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "roomchat").
	Namespace string

	// Buckets are the histogram buckets for intent duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors and serves /metrics.
	// Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures the metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics records session activity. It implements session.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	status         prometheus.Gauge
	roomMembers    prometheus.Gauge
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	admissions     *prometheus.CounterVec
	disconnects    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	intentDuration *prometheus.HistogramVec
}

var _ session.Recorder = (*Metrics)(nil)

// New registers the client metrics.
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "roomchat",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(cfg.Registry)
	return &Metrics{
		registry: cfg.Registry,

		status: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "connection_status",
			Help:      "Connection status: 0 disconnected, 1 connecting, 2 connected",
		}),

		roomMembers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "room_members",
			Help:      "Members of the current room as last reported by the server",
		}),

		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames sent, by meeting type",
		}, []string{"meeting_type"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames received, by classified kind",
		}, []string{"kind"}),

		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "flood_admissions_total",
			Help:      "Total number of flood guard decisions, by verdict",
		}, []string{"verdict"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "disconnects_total",
			Help:      "Total number of ended connections, by reason",
		}, []string{"reason"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "operation_failures_total",
			Help:      "Total number of rejected user operations",
		}, []string{"op", "code"}),

		intentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "intent_duration_seconds",
			Help:      "Time spent handling a user intent",
			Buckets:   cfg.Buckets,
		}, []string{"op"}),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// StatusChanged sets the connection status gauge.
func (m *Metrics) StatusChanged(_, to session.Status) {
	m.status.Set(float64(to))
}

// FrameSent counts an outbound frame by meeting type.
func (m *Metrics) FrameSent(kind protocol.MeetingType) {
	m.framesSent.WithLabelValues(kind.String()).Inc()
}

// FrameReceived counts an inbound frame by kind.
func (m *Metrics) FrameReceived(kind protocol.FrameKind) {
	m.framesReceived.WithLabelValues(kind.String()).Inc()
}

// Admitted counts a flood guard verdict.
func (m *Metrics) Admitted(v flood.Verdict) {
	m.admissions.WithLabelValues(v.String()).Inc()
}

// Disconnected counts a disconnect by reason.
func (m *Metrics) Disconnected(reason session.DisconnectReason) {
	m.disconnects.WithLabelValues(reason.String()).Inc()
}

// RoomCountChanged sets the room population gauge.
func (m *Metrics) RoomCountChanged(count int) {
	m.roomMembers.Set(float64(count))
}

// OperationFailed counts a failed operation by error code.
func (m *Metrics) OperationFailed(op, code string) {
	m.failures.WithLabelValues(op, code).Inc()
}

// ObserveIntent records how long a user intent took.
func (m *Metrics) ObserveIntent(op string, d time.Duration) {
	m.intentDuration.WithLabelValues(op).Observe(d.Seconds())
}
