package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

// Directory serves patient snapshots to the queue service.
type Directory struct {
	repo Repository
	now  func() time.Time
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo, now: time.Now}
}

func (d *Directory) Lookup(ctx context.Context, id uuid.UUID) (*queue.PatientSnapshot, error) {
	p, err := d.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", queue.ErrPatientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", queue.ErrStoreUnavailable, err)
	}
	return &queue.PatientSnapshot{
		ID:             p.ID,
		DisplayName:    p.DisplayName(),
		Age:            p.AgeAt(d.now()),
		MedicalHistory: p.MedicalHistory,
	}, nil
}
