package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

func newTestMetrics() *Metrics {
	return New(prometheus.NewRegistry())
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	m := newTestMetrics()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/queue/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	e.GET("/missing/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "nope")
	})

	for _, path := range []string{"/queue/a", "/queue/b", "/missing/x"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/queue/:id", "200")); got != 2 {
		t.Errorf("expected 2 requests for /queue/:id, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/missing/:id", "404")); got != 1 {
		t.Errorf("expected 1 not-found request, got %v", got)
	}
	if got := testutil.ToFloat64(m.httpRequestsInFlight); got != 0 {
		t.Errorf("in-flight gauge should return to 0, got %v", got)
	}
}

func TestRecorder_QueueCounters(t *testing.T) {
	m := newTestMetrics()
	var r queue.Recorder = m

	r.Enqueued(queue.PriorityPriority, true)
	r.Enqueued(queue.PriorityNormal, false)
	r.Transitioned(queue.StatusWaiting, queue.StatusCalled)
	r.Overridden(queue.PriorityNormal)
	r.Removed()
	r.EnqueueConflict()
	r.Refreshed(true)
	r.Refreshed(false)
	r.Announced()
	r.BoardStats(queue.Stats{Waiting: 4, Called: 1, Serving: 2, PriorityWaiting: 3})

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"auto priority", m.enqueued.WithLabelValues("priority", "auto"), 1},
		{"manual normal", m.enqueued.WithLabelValues("normal", "manual"), 1},
		{"transition", m.transitions.WithLabelValues("waiting", "called"), 1},
		{"override", m.overrides.WithLabelValues("normal"), 1},
		{"removed", m.removed, 1},
		{"conflicts", m.enqueueConflicts, 1},
		{"refresh ok", m.refreshes.WithLabelValues("ok"), 1},
		{"refresh error", m.refreshes.WithLabelValues("error"), 1},
		{"announced", m.announcements, 1},
		{"waiting", m.waiting, 4},
		{"called", m.called, 1},
		{"serving", m.serving, 2},
		{"priority waiting", m.priorityWaiting, 3},
	}
	for _, tc := range checks {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestPurged(t *testing.T) {
	m := newTestMetrics()
	m.Purged("queue_entry", 5)
	m.Purged("queue_entry", 2)
	if got := testutil.ToFloat64(m.purged.WithLabelValues("queue_entry")); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	m := newTestMetrics()
	m.Announced()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthqueue_announcements_total 1") {
		t.Errorf("announcement counter missing from output:\n%s", rec.Body.String())
	}
}
