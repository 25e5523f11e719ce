package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("patient not found")

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Search matches name against first and last name, case-insensitively.
	// An empty name lists every patient.
	Search(ctx context.Context, name string, limit, offset int) ([]*Patient, int, error)
}
