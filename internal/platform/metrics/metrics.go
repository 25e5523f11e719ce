package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

// Metrics holds every collector the server exports.
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Queue metrics
	enqueued         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	overrides        *prometheus.CounterVec
	removed          prometheus.Counter
	enqueueConflicts prometheus.Counter
	refreshes        *prometheus.CounterVec
	announcements    prometheus.Counter
	waiting          prometheus.Gauge
	called           prometheus.Gauge
	serving          prometheus.Gauge
	priorityWaiting  prometheus.Gauge
	purged           *prometheus.CounterVec
}

// New registers the collectors on reg and serves them from the same registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		httpRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
		enqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthqueue_enqueued_total",
				Help: "Patients added to the queue",
			},
			[]string{"priority", "source"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthqueue_transitions_total",
				Help: "Queue entry status transitions",
			},
			[]string{"from", "to"},
		),
		overrides: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthqueue_priority_overrides_total",
				Help: "Manual priority overrides",
			},
			[]string{"to"},
		),
		removed: f.NewCounter(prometheus.CounterOpts{
			Name: "healthqueue_removed_total",
			Help: "Queue entries removed before completion",
		}),
		enqueueConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "healthqueue_enqueue_conflicts_total",
			Help: "Queue number collisions retried during enqueue",
		}),
		refreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthqueue_refresh_total",
				Help: "Queue board refreshes by result",
			},
			[]string{"result"},
		),
		announcements: f.NewCounter(prometheus.CounterOpts{
			Name: "healthqueue_announcements_total",
			Help: "Now-serving announcements published",
		}),
		waiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthqueue_waiting",
			Help: "Entries currently waiting",
		}),
		called: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthqueue_called",
			Help: "Entries currently called to the desk",
		}),
		serving: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthqueue_serving",
			Help: "Entries currently being served",
		}),
		priorityWaiting: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthqueue_priority_waiting",
			Help: "Priority entries currently waiting",
		}),
		purged: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthqueue_purged_total",
				Help: "Records removed by the retention purge",
			},
			[]string{"resource"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by the route template,
// so ids in the path do not explode label cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			m.httpRequestsInFlight.Inc()
			defer m.httpRequestsInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// -- queue.Recorder --

func (m *Metrics) Enqueued(p queue.Priority, auto bool) {
	source := "manual"
	if auto {
		source = "auto"
	}
	m.enqueued.WithLabelValues(string(p), source).Inc()
}

func (m *Metrics) Transitioned(from, to queue.Status) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) Overridden(to queue.Priority) { m.overrides.WithLabelValues(string(to)).Inc() }
func (m *Metrics) Removed()                     { m.removed.Inc() }
func (m *Metrics) EnqueueConflict()             { m.enqueueConflicts.Inc() }
func (m *Metrics) Announced()                   { m.announcements.Inc() }

func (m *Metrics) Refreshed(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) BoardStats(s queue.Stats) {
	m.waiting.Set(float64(s.Waiting))
	m.called.Set(float64(s.Called))
	m.serving.Set(float64(s.Serving))
	m.priorityWaiting.Set(float64(s.PriorityWaiting))
}

// -- hipaa.PurgeRecorder --

func (m *Metrics) Purged(resourceType string, n int64) {
	m.purged.WithLabelValues(resourceType).Add(float64(n))
}
