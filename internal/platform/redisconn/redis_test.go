package redisconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"

	"github.com/healthqueue/healthqueue/internal/platform/db"
)

func TestOptions(t *testing.T) {
	opts := Options(Config{URL: "redis://:secret@cache:6380/2", PoolSize: 20, MaxRetries: 3})
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Errorf("unexpected parsed options %+v", opts)
	}
	if opts.PoolSize != 20 || opts.MaxRetries != 3 {
		t.Errorf("pool settings not applied: %+v", opts)
	}
}

func TestOptions_BareAddress(t *testing.T) {
	opts := Options(Config{URL: "localhost:6379"})
	if opts.Addr != "localhost:6379" {
		t.Errorf("expected bare address fallback, got %q", opts.Addr)
	}
}

func TestPinger(t *testing.T) {
	client, mock := redismock.NewClientMock()
	p := Pinger(client)

	mock.ExpectPing().SetVal("PONG")
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	err := p.Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected wrapped ping error, got %v", err)
	}
}

func TestPingHandler_RedisDown(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("connection refused"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/redis", nil), rec)

	h := db.PingHandler(Pinger(client), time.Second, nil)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unhealthy") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
