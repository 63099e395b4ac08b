// Package metrics collects Prometheus metrics for a fastws server.
//
// Metrics collected:
//   - fastws_http_requests_total: Counter of requests by method, route and status
//   - fastws_http_request_duration_seconds: Histogram of request duration
//   - fastws_ws_sessions_active: Gauge of open WebSocket sessions
//   - fastws_ws_sessions_total: Counter of accepted WebSocket sessions
//   - fastws_ws_messages_total: Counter of client frames by kind
//   - fastws_ws_errors_total: Counter of WebSocket failures by type
//   - fastws_broadcasts_total: Counter of broadcasts by kind
//   - fastws_broadcast_recipients_total: Counter of frames queued by broadcasts
//   - fastws_reloads_total: Counter of reloads
//
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	// Namespace is the metrics namespace (default: "fastws").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors. Default: a fresh registry.
	Registry *prometheus.Registry
}

// Option configures a Collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
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

// Collector holds the server metrics.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	activeSessions      prometheus.Gauge
	sessionsTotal       prometheus.Counter
	messagesTotal       *prometheus.CounterVec
	wsErrors            *prometheus.CounterVec
	broadcastsTotal     *prometheus.CounterVec
	broadcastRecipients prometheus.Counter
	reloadsTotal        prometheus.Counter
}

// New registers the collectors.
func New(opts ...Option) *Collector {
	config := Config{
		Namespace: "fastws",
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		registry: config.Registry,

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests handled",
			ConstLabels: config.ConstLabels,
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"method", "route"}),

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   "ws",
			Name:        "sessions_active",
			Help:        "Number of open WebSocket sessions",
			ConstLabels: config.ConstLabels,
		}),

		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   "ws",
			Name:        "sessions_total",
			Help:        "Total number of WebSocket sessions accepted",
			ConstLabels: config.ConstLabels,
		}),

		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   "ws",
			Name:        "messages_total",
			Help:        "Total number of frames received from clients",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		wsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   "ws",
			Name:        "errors_total",
			Help:        "Total WebSocket errors by type",
			ConstLabels: config.ConstLabels,
		}, []string{"type"}),

		broadcastsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "broadcasts_total",
			Help:        "Total number of topic broadcasts",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		broadcastRecipients: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "broadcast_recipients_total",
			Help:        "Total number of frames queued by broadcasts",
			ConstLabels: config.ConstLabels,
		}),

		reloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "reloads_total",
			Help:        "Total number of server reloads",
			ConstLabels: config.ConstLabels,
		}),
	}
}

// Registry returns the registry the collectors live in.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SessionOpened records an accepted WebSocket session.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsTotal.Inc()
	c.activeSessions.Inc()
}

// SessionClosed records a closed WebSocket session.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}

// MessageReceived records a client frame.
func (c *Collector) MessageReceived(isBinary bool) {
	if c == nil {
		return
	}
	kind := "text"
	if isBinary {
		kind = "binary"
	}
	c.messagesTotal.WithLabelValues(kind).Inc()
}

// WebSocketError records a failure such as "invalid_payload" or "open".
func (c *Collector) WebSocketError(errType string) {
	if c == nil {
		return
	}
	c.wsErrors.WithLabelValues(errType).Inc()
}

// Broadcast records a broadcast of the given kind that reached recipients
// connections.
func (c *Collector) Broadcast(kind string, recipients int) {
	if c == nil {
		return
	}
	c.broadcastsTotal.WithLabelValues(kind).Inc()
	c.broadcastRecipients.Add(float64(recipients))
}

// Reloaded records a reload.
func (c *Collector) Reloaded() {
	if c == nil {
		return
	}
	c.reloadsTotal.Inc()
}
