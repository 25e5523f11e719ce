package patient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

func TestDirectory_Lookup(t *testing.T) {
	repo := newMockRepo()
	p := repo.add("Lena", "Cruz")
	p.DateOfBirth = date(1950, 2, 1)
	p.MedicalHistory = []string{"pregnant"}

	d := NewDirectory(repo)
	d.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	snap, err := d.Lookup(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.DisplayName != "Lena Cruz" {
		t.Errorf("unexpected name %q", snap.DisplayName)
	}
	if snap.Age == nil || *snap.Age != 75 {
		t.Errorf("expected age 75, got %v", snap.Age)
	}
	if len(snap.MedicalHistory) != 1 || snap.MedicalHistory[0] != "pregnant" {
		t.Errorf("unexpected history %v", snap.MedicalHistory)
	}
}

func TestDirectory_LookupErrors(t *testing.T) {
	repo := newMockRepo()
	d := NewDirectory(repo)

	if _, err := d.Lookup(context.Background(), uuid.New()); !errors.Is(err, queue.ErrPatientNotFound) {
		t.Errorf("expected ErrPatientNotFound, got %v", err)
	}

	repo.err = errors.New("connection reset")
	if _, err := d.Lookup(context.Background(), uuid.New()); !errors.Is(err, queue.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}
