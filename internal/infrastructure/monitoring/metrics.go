package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Application instance metrics
	AppsRunning  prometheus.Gauge
	AppsLaunched *prometheus.CounterVec
	Lifecycle    *prometheus.CounterVec

	// Bridge metrics
	Invocations    *prometheus.CounterVec
	RepliesDropped *prometheus.CounterVec
	Publishes      *prometheus.CounterVec

	// Pending task queue metrics
	PendingQueued    prometheus.Counter
	PendingReplayed  prometheus.Counter
	PendingDiscarded prometheus.Counter

	// Surface pool metrics
	SurfacesCreated   prometheus.Counter
	SurfacesDiscarded *prometheus.CounterVec
	SurfacesLent      prometheus.Gauge
	PoolExhausted     prometheus.Counter

	// Navigation metrics
	Navigations       *prometheus.CounterVec
	FirstRenderWaits  *prometheus.CounterVec
	NavigationLatency *prometheus.HistogramVec

	// Command batching metrics
	CanvasBatches   prometheus.Counter
	CanvasBatchSize prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the JSON stats endpoint.
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	RunningApps     int64   `json:"running_apps"`
	ActiveSockets   int64   `json:"active_sockets"`
	Invocations     int64   `json:"invocations"`
	PendingReplayed int64   `json:"pending_replayed"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		AppsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "apphost_apps_running",
			Help: "Number of running application instances",
		}),
		AppsLaunched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_apps_launched_total",
				Help: "Application launches by outcome",
			},
			[]string{"status"},
		),
		Lifecycle: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_lifecycle_transitions_total",
				Help: "Lifecycle transitions by target state",
			},
			[]string{"transition"},
		),

		Invocations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_bridge_invocations_total",
				Help: "Bridge invocations by event and status",
			},
			[]string{"event", "status"},
		),
		RepliesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_bridge_replies_dropped_total",
				Help: "Replies discarded before delivery",
			},
			[]string{"reason"},
		),
		Publishes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_bridge_publishes_total",
				Help: "Broadcasts published by key",
			},
			[]string{"key"},
		),

		PendingQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_pending_queued_total",
			Help: "Messages captured while suspended",
		}),
		PendingReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_pending_replayed_total",
			Help: "Captured messages replayed on resume",
		}),
		PendingDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_pending_discarded_total",
			Help: "Captured messages discarded on kill",
		}),

		SurfacesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_surfaces_created_total",
			Help: "Rendering surfaces created",
		}),
		SurfacesDiscarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_surfaces_discarded_total",
				Help: "Rendering surfaces torn down",
			},
			[]string{"reason"},
		),
		SurfacesLent: f.NewGauge(prometheus.GaugeOpts{
			Name: "apphost_surfaces_lent",
			Help: "Rendering surfaces currently bound to pages",
		}),
		PoolExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_surface_pool_exhausted_total",
			Help: "Surface requests refused at the pool ceiling",
		}),

		Navigations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_navigations_total",
				Help: "Navigation operations by kind and status",
			},
			[]string{"op", "status"},
		),
		FirstRenderWaits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_first_render_total",
				Help: "How page readiness was reached",
			},
			[]string{"via"},
		),
		NavigationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apphost_navigation_duration_seconds",
				Help:    "Time from navigation request to page ready",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		CanvasBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "apphost_canvas_batches_total",
			Help: "Drawing command batches flushed",
		}),
		CanvasBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "apphost_canvas_batch_commands",
			Help:    "Commands per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		WSConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "apphost_ws_connections",
			Help: "Number of active renderer connections",
		}),
		WSMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apphost_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		Uptime: f.NewGauge(prometheus.GaugeOpts{
			Name: "apphost_uptime_seconds",
			Help: "Host uptime in seconds",
		}),
	}

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// SetAppsRunning sets the number of running instances
func (m *Metrics) SetAppsRunning(count int) {
	if m == nil {
		return
	}
	m.AppsRunning.Set(float64(count))
	m.mu.Lock()
	m.snapshot.RunningApps = int64(count)
	m.mu.Unlock()
}

// RecordLaunch counts a launch attempt
func (m *Metrics) RecordLaunch(status string) {
	if m == nil {
		return
	}
	m.AppsLaunched.WithLabelValues(status).Inc()
}

// RecordLifecycle counts a lifecycle transition
func (m *Metrics) RecordLifecycle(transition string) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(transition).Inc()
}

// RecordInvocation counts a bridge invocation step
func (m *Metrics) RecordInvocation(event, status string) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(event, status).Inc()
	if status == "dispatched" {
		m.mu.Lock()
		m.snapshot.Invocations++
		m.mu.Unlock()
	}
}

// RecordReplyDropped counts a reply that never reached its caller
func (m *Metrics) RecordReplyDropped(reason string) {
	if m == nil {
		return
	}
	m.RepliesDropped.WithLabelValues(reason).Inc()
}

// RecordPublish counts a broadcast
func (m *Metrics) RecordPublish(key string) {
	if m == nil {
		return
	}
	m.Publishes.WithLabelValues(key).Inc()
}

// RecordQueued counts a message captured while suspended
func (m *Metrics) RecordQueued() {
	if m == nil {
		return
	}
	m.PendingQueued.Inc()
}

// RecordReplayed counts messages replayed on resume
func (m *Metrics) RecordReplayed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PendingReplayed.Add(float64(n))
	m.mu.Lock()
	m.snapshot.PendingReplayed += int64(n)
	m.mu.Unlock()
}

// RecordDiscarded counts messages dropped on kill
func (m *Metrics) RecordDiscarded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.PendingDiscarded.Add(float64(n))
}

// RecordSurfaceCreated counts a new surface
func (m *Metrics) RecordSurfaceCreated() {
	if m == nil {
		return
	}
	m.SurfacesCreated.Inc()
}

// RecordSurfaceDiscarded counts a torn down surface
func (m *Metrics) RecordSurfaceDiscarded(reason string) {
	if m == nil {
		return
	}
	m.SurfacesDiscarded.WithLabelValues(reason).Inc()
}

// AddSurfacesLent adjusts the lent gauge by delta
func (m *Metrics) AddSurfacesLent(delta int) {
	if m == nil {
		return
	}
	m.SurfacesLent.Add(float64(delta))
}

// RecordPoolExhausted counts a refused surface request
func (m *Metrics) RecordPoolExhausted() {
	if m == nil {
		return
	}
	m.PoolExhausted.Inc()
}

// RecordNavigation counts a navigation operation
func (m *Metrics) RecordNavigation(op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(op, status).Inc()
	if status == "ok" && duration > 0 {
		m.NavigationLatency.WithLabelValues(op).Observe(duration.Seconds())
	}
}

// RecordFirstRender records whether readiness came from the renderer or the timeout
func (m *Metrics) RecordFirstRender(via string) {
	if m == nil {
		return
	}
	m.FirstRenderWaits.WithLabelValues(via).Inc()
}

// RecordCanvasBatch records one flushed drawing batch
func (m *Metrics) RecordCanvasBatch(commands int) {
	if m == nil {
		return
	}
	m.CanvasBatches.Inc()
	m.CanvasBatchSize.Observe(float64(commands))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSockets++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSockets--
	m.mu.Unlock()
}

// Snapshot returns current values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	up := time.Since(m.startTime).Seconds()
	m.Uptime.Set(up)

	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = up
	return s
}
