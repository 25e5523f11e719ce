package settings

import (
	"context"
	"errors"
	"time"
)

var ErrInvalid = errors.New("invalid settings")

// Repository persists the settings document. Load returns nil when nothing
// has been saved yet.
type Repository interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, doc []byte, updatedBy string) error
}

// Actor identifies who changed the settings.
type Actor struct {
	ID    string
	Email string
	Role  string
}

// Change is the audit payload for a settings write.
type Change struct {
	Old   Settings
	New   Settings
	Actor Actor
	Reset bool
	At    time.Time
}

type ChangeRecorder interface {
	RecordSettingsChange(ctx context.Context, ch Change) error
}

// TxRunner runs fn in a transaction carried on ctx.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

func noTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
