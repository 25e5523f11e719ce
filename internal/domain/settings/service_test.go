package settings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var doctor = Actor{ID: "u-1", Email: "dr@clinic.test", Role: "doctor"}

func newTestService() (*Service, *mockRepo, *mockRecorder) {
	repo := &mockRepo{}
	rec := &mockRecorder{}
	svc := NewService(repo, rec, zerolog.Nop(), WithTxRunner(rollbackTx(repo)))
	svc.now = func() time.Time { return time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC) }
	return svc, repo, rec
}

func TestService_StartsWithDefaults(t *testing.T) {
	svc, _, _ := newTestService()
	if svc.Current() != Defaults() {
		t.Error("expected defaults before the first load")
	}
}

func TestService_Update(t *testing.T) {
	svc, repo, rec := newTestService()
	calls := 0
	svc.Subscribe(func() { calls++ })

	next := Defaults()
	next.Display.RefreshInterval = 10
	saved, err := svc.Update(context.Background(), next, doctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved != next || svc.Current() != next {
		t.Error("update must be visible immediately")
	}
	if calls != 1 {
		t.Errorf("expected one notification, got %d", calls)
	}

	var stored Settings
	if err := json.Unmarshal(repo.doc, &stored); err != nil || stored != next {
		t.Errorf("stored document mismatch: %v", err)
	}

	if len(rec.changes) != 1 {
		t.Fatalf("expected one audit record, got %d", len(rec.changes))
	}
	ch := rec.changes[0]
	if ch.Old != Defaults() || ch.New != next || ch.Actor != doctor || ch.Reset {
		t.Errorf("unexpected change record %+v", ch)
	}
}

func TestService_UpdateInvalid(t *testing.T) {
	svc, repo, rec := newTestService()
	bad := Defaults()
	bad.Display.MaxDisplayItems = 0

	if _, err := svc.Update(context.Background(), bad, doctor); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if repo.saves != 0 || len(rec.changes) != 0 {
		t.Error("invalid settings must not be stored or audited")
	}
	if svc.Current() != Defaults() {
		t.Error("invalid settings must not reach the cache")
	}
}

func TestService_AuditFailureRollsBack(t *testing.T) {
	svc, repo, rec := newTestService()
	rec.err = errAuditDown

	next := Defaults()
	next.Notifications.SystemAlerts = true
	if _, err := svc.Update(context.Background(), next, doctor); !errors.Is(err, errAuditDown) {
		t.Fatalf("expected audit error, got %v", err)
	}
	if repo.saves != 0 || repo.doc != nil {
		t.Error("write must be rolled back when the audit record fails")
	}
	if svc.Current().Notifications.SystemAlerts {
		t.Error("cache must keep the previous value")
	}
}

func TestService_Reset(t *testing.T) {
	svc, _, rec := newTestService()
	changed := Defaults()
	changed.Queue.PriorityForSeniors = false
	if _, err := svc.Update(context.Background(), changed, doctor); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Reset(context.Background(), doctor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != Defaults() || svc.Current() != Defaults() {
		t.Error("reset must restore defaults")
	}
	if last := rec.changes[len(rec.changes)-1]; !last.Reset || last.Old != changed {
		t.Errorf("unexpected reset record %+v", last)
	}
}

func TestService_ReloadNotifiesOnlyOnChange(t *testing.T) {
	svc, repo, _ := newTestService()
	calls := 0
	unsubscribe := svc.Subscribe(func() { calls++ })

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("empty store equals defaults, expected no notification, got %d", calls)
	}

	repo.set(`{"display":{"maxDisplayItems":5}}`)
	if err := svc.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || svc.Current().Display.MaxDisplayItems != 5 {
		t.Errorf("expected one notification and the new value, got %d, %+v", calls, svc.Current().Display)
	}

	if err := svc.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("unchanged reload notified, got %d", calls)
	}

	unsubscribe()
	repo.set(`{"display":{"maxDisplayItems":6}}`)
	_ = svc.Reload(context.Background())
	if calls != 1 {
		t.Error("unsubscribed callback still ran")
	}
}

func TestService_ReloadStoreError(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.loadErr = errors.New("connection refused")
	if err := svc.Reload(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if svc.Current() != Defaults() {
		t.Error("failed reload must keep the cached value")
	}
}

func TestService_QueueSettings(t *testing.T) {
	svc, _, _ := newTestService()
	next := Defaults()
	next.Queue.PriorityForPWD = false
	if _, err := svc.Update(context.Background(), next, doctor); err != nil {
		t.Fatal(err)
	}
	if svc.QueueSettings().Rules.PriorityForPWD {
		t.Error("queue view must follow the update")
	}
}
