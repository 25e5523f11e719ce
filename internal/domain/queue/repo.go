package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistent queue table. Implementations translate driver
// failures to ErrStoreUnavailable, missing rows to ErrEntryNotFound and
// queue-number collisions to ErrConcurrentModification.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id uuid.UUID) (*Entry, error)
	// ListActive returns waiting, called and serving entries ordered by
	// priority desc, queue number asc.
	ListActive(ctx context.Context) ([]*Entry, error)
	// UpdateStatus only applies when the stored status still equals from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Entry, error)
	UpdatePriority(ctx context.Context, id uuid.UUID, p Priority) (*Entry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MaxQueueNumber(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	// History returns completed entries, newest first.
	History(ctx context.Context, limit int) ([]*Entry, error)
	PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NumberAllocator hands out queue numbers atomically across processes.
type NumberAllocator interface {
	Next(ctx context.Context) (int, error)
	// Seed guarantees the next number handed out is greater than floor.
	Seed(ctx context.Context, floor int) error
}

type PatientDirectory interface {
	Lookup(ctx context.Context, id uuid.UUID) (*PatientSnapshot, error)
}

// OverrideRecord is the audit payload for a priority override.
type OverrideRecord struct {
	EntryID       uuid.UUID
	FromPriority  Priority
	ToPriority    Priority
	Justification string
	Actor         Actor
	Timestamp     time.Time
}

type AuditRecorder interface {
	RecordPriorityOverride(ctx context.Context, rec OverrideRecord) error
}

// Publisher delivers engine output to display surfaces.
type Publisher interface {
	PublishBoard(b *Board)
	PublishAnnouncement(a Announcement)
	PublishNotification(n Notification)
}

// SettingsSource is injected into the engine and service so that rules and
// polling cadence are read from an explicit capability.
type SettingsSource interface {
	QueueSettings() Settings
	// Subscribe registers fn to run after every settings change and returns
	// a function that removes it.
	Subscribe(fn func()) (unsubscribe func())
}

// Refresher is the engine's trigger surface as seen by the service.
type Refresher interface {
	Trigger()
}

// Recorder collects queue metrics.
type Recorder interface {
	Enqueued(p Priority, auto bool)
	Transitioned(from, to Status)
	Overridden(to Priority)
	Removed()
	EnqueueConflict()
	Refreshed(ok bool)
	Announced()
	BoardStats(s Stats)
}

type nopRecorder struct{}

func (nopRecorder) Enqueued(Priority, bool)     {}
func (nopRecorder) Transitioned(Status, Status) {}
func (nopRecorder) Overridden(Priority)         {}
func (nopRecorder) Removed()                    {}
func (nopRecorder) EnqueueConflict()            {}
func (nopRecorder) Refreshed(bool)              {}
func (nopRecorder) Announced()                  {}
func (nopRecorder) BoardStats(Stats)            {}
