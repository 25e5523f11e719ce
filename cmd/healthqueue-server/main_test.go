package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/config"
	"github.com/healthqueue/healthqueue/internal/domain/patient"
	"github.com/healthqueue/healthqueue/internal/domain/queue"
	"github.com/healthqueue/healthqueue/internal/domain/settings"
	"github.com/healthqueue/healthqueue/internal/platform/db"
	"github.com/healthqueue/healthqueue/internal/platform/hipaa"
	"github.com/healthqueue/healthqueue/internal/platform/metrics"
	"github.com/healthqueue/healthqueue/internal/platform/websocket"
)

// -- fakes --

type memAudit struct {
	mu     sync.Mutex
	events []*hipaa.AuditEvent
}

func (m *memAudit) Insert(_ context.Context, e *hipaa.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) Search(context.Context, hipaa.AuditFilter, int, int) ([]*hipaa.AuditEvent, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events, len(m.events), nil
}

func (m *memAudit) PurgeBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memSettings struct {
	doc []byte
}

func (m *memSettings) Load(context.Context) ([]byte, error) { return m.doc, nil }

func (m *memSettings) Save(_ context.Context, doc []byte, _ string) error {
	m.doc = doc
	return nil
}

type captureTarget struct {
	events []websocket.Event
}

func (c *captureTarget) Publish(_ context.Context, ev websocket.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func newSettingsService(audit *hipaa.AuditLogger) *settings.Service {
	return settings.NewService(&memSettings{}, auditRecorder{audit: audit}, zerolog.Nop())
}

// -- adapters --

func TestDisplayPublisher_TrimsBoard(t *testing.T) {
	svc := newSettingsService(hipaa.NewAuditLogger(&memAudit{}, zerolog.Nop()))
	next := svc.Current()
	next.Display.MaxDisplayItems = 1
	next.Display.ShowPriority = false
	if _, err := svc.Update(context.Background(), next, settings.Actor{ID: "doc"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	target := &captureTarget{}
	p := newDisplayPublisher(svc, zerolog.Nop(), target)
	board := &queue.Board{
		Waiting: []*queue.Entry{
			{QueueNumber: 1, Priority: queue.PriorityPriority, PatientName: "Ana Reyes"},
			{QueueNumber: 2, Priority: queue.PriorityNormal, PatientName: "Ben Cruz"},
		},
	}
	p.PublishBoard(board)

	if len(target.events) != 1 || target.events[0].Topic != websocket.TopicBoard {
		t.Fatalf("expected one board event, got %+v", target.events)
	}
	var d queue.DisplayBoard
	if err := json.Unmarshal(target.events[0].Data, &d); err != nil {
		t.Fatalf("decode board: %v", err)
	}
	if len(d.Waiting) != 1 || d.WaitingMore != 1 {
		t.Errorf("expected waiting list capped at 1, got %+v", d)
	}
	if d.Waiting[0].Priority != "" || d.Waiting[0].PatientName != "" {
		t.Errorf("public board leaked details: %+v", d.Waiting[0])
	}
}

func TestDisplayPublisher_Topics(t *testing.T) {
	svc := newSettingsService(hipaa.NewAuditLogger(&memAudit{}, zerolog.Nop()))
	target := &captureTarget{}
	p := newDisplayPublisher(svc, zerolog.Nop(), target)

	p.PublishAnnouncement(queue.Announcement{QueueNumber: 4, Message: "Now serving number 4"})
	p.PublishNotification(queue.Notification{Kind: queue.NotifySystemAlert, Message: "queue store unreachable"})

	if len(target.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(target.events))
	}
	if target.events[0].Topic != websocket.TopicAnnounce || target.events[0].Type != "announcement" {
		t.Errorf("unexpected announcement event %+v", target.events[0])
	}
	if target.events[1].Topic != websocket.TopicNotify || target.events[1].Type != string(queue.NotifySystemAlert) {
		t.Errorf("unexpected notification event %+v", target.events[1])
	}
}

func TestAuditRecorder_PriorityOverride(t *testing.T) {
	repo := &memAudit{}
	r := auditRecorder{audit: hipaa.NewAuditLogger(repo, zerolog.Nop())}
	id := uuid.New()
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	err := r.RecordPriorityOverride(context.Background(), queue.OverrideRecord{
		EntryID:       id,
		FromPriority:  queue.PriorityNormal,
		ToPriority:    queue.PriorityPriority,
		Justification: "post-operative patient",
		Actor:         queue.Actor{ID: "doc-1", Email: "doc@clinic.test", Role: "doctor"},
		Timestamp:     at,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	ev := repo.events[0]
	if ev.EventType != hipaa.EventPriorityOverride || ev.Action != "override_queue_priority" {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.ResourceType != "queue" || ev.ResourceID != id.String() {
		t.Errorf("unexpected resource %s/%s", ev.ResourceType, ev.ResourceID)
	}
	want := map[string]any{"from": "normal", "to": "priority", "justification": "post-operative patient", "timestamp": "2026-04-02T09:30:00Z"}
	for k, v := range want {
		if ev.Details[k] != v {
			t.Errorf("details[%s] = %v, want %v", k, ev.Details[k], v)
		}
	}
}

func TestAuditRecorder_SettingsReset(t *testing.T) {
	repo := &memAudit{}
	audit := hipaa.NewAuditLogger(repo, zerolog.Nop())
	svc := newSettingsService(audit)

	if _, err := svc.Reset(context.Background(), settings.Actor{ID: "doc-1", Role: "doctor"}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	if ev := repo.events[0]; ev.EventType != hipaa.EventSettingsChange || ev.Action != "reset_settings" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestSyncRetention_FollowsSettings(t *testing.T) {
	svc := newSettingsService(hipaa.NewAuditLogger(&memAudit{}, zerolog.Nop()))
	retention := hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(1), zerolog.Nop())

	unsubscribe := syncRetention(svc, retention)
	defer unsubscribe()
	if got := retention.GetPolicy(hipaa.ResourceQueueEntry).RetentionDays; got != svc.Current().System.DataRetention {
		t.Fatalf("initial sync: got %d", got)
	}

	next := svc.Current()
	next.System.DataRetention = 30
	if _, err := svc.Update(context.Background(), next, settings.Actor{ID: "doc"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := retention.GetPolicy(hipaa.ResourceQueueEntry).RetentionDays; got != 30 {
		t.Errorf("expected 30 days after update, got %d", got)
	}
}

// -- CLI output --

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, queue.Stats{Waiting: 5, Called: 1, Serving: 2, PriorityWaiting: 3})
	out := buf.String()
	for _, want := range []string{"waiting:  5", "called:   1", "serving:  2", "priority: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "patients", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "queue_entries"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines", len(lines))
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2026-01-05 08:00:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestPrintCounts_Sorted(t *testing.T) {
	var buf bytes.Buffer
	printCounts(&buf, map[string]int64{"queue_entry": 3, "audit_log": 1})
	out := buf.String()
	if strings.Index(out, "audit_log") > strings.Index(out, "queue_entry") {
		t.Errorf("expected sorted output, got %s", out)
	}
}

// -- HTTP surface --

func newTestApp(t *testing.T, env string) *app {
	t.Helper()
	logger := zerolog.Nop()
	cfg := &config.Config{
		Env:            env,
		AuthSigningKey: strings.Repeat("s", 32),
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		CORSOrigins:    []string{"http://localhost:3000"},
	}
	a := &app{cfg: cfg, logger: logger}
	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	a.audit = hipaa.NewAuditLogger(&memAudit{}, logger)
	a.settings = newSettingsService(a.audit)
	a.retention = hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(365), logger)
	a.hub = websocket.NewHub(logger, websocket.DefaultTopics, websocket.TopicBoard)
	a.patients = patient.NewService(nil)
	publisher := newDisplayPublisher(a.settings, logger, a.hub)
	a.engine = queue.NewEngine(nil, a.settings, publisher, logger)
	a.queue = queue.NewService(nil, nil, nil, a.settings, auditRecorder{audit: a.audit}, publisher, logger)
	return a
}

func TestNewEcho_RegistersRoutes(t *testing.T) {
	e := newEcho(newTestApp(t, "production"))

	routes := make(map[string]bool)
	for _, r := range e.Routes() {
		routes[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /api/v1/queue",
		"POST /api/v1/queue",
		"POST /api/v1/queue/:id/priority",
		"PUT /api/v1/queue/:id/status",
		"GET /api/v1/patients",
		"PUT /api/v1/settings",
		"GET /api/v1/audit-logs",
		"POST /api/v1/retention-policies/purge",
		"GET /display/board",
		"GET /display/ws",
		"GET /health",
		"GET /health/db",
		"GET /health/redis",
		"GET /metrics",
	} {
		if !routes[want] {
			t.Errorf("route %s not registered", want)
		}
	}
}

func TestNewEcho_APIRequiresToken(t *testing.T) {
	e := newEcho(newTestApp(t, "production"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected request id on error responses")
	}
}

func TestNewEcho_PublicDisplayBeforeFirstLoad(t *testing.T) {
	e := newEcho(newTestApp(t, "production"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/display/board", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before the first load, got %d", rec.Code)
	}
	var d queue.DisplayBoard
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("expected a board body, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected liveness 200, got %d", rec.Code)
	}
}
