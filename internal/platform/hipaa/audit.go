package hipaa

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types recorded in the audit trail.
const (
	EventDataModification = "data_modification"
	EventPriorityOverride = "priority_override"
	EventSettingsChange   = "settings_change"
	EventAccessDenied     = "access_denied"
)

// AuditEvent is one row of the audit_logs table.
type AuditEvent struct {
	ID            uuid.UUID      `json:"id"`
	EventType     string         `json:"event_type"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id,omitempty"`
	ActorID       string         `json:"actor_id"`
	ActorEmail    string         `json:"actor_email,omitempty"`
	ActorRole     string         `json:"actor_role,omitempty"`
	AccessGranted bool           `json:"access_granted"`
	Details       map[string]any `json:"details,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuditFilter narrows an audit search. Zero values match everything.
type AuditFilter struct {
	From          *time.Time
	To            *time.Time
	EventType     string
	ActorID       string
	ResourceType  string
	AccessGranted *bool
}

type AuditRepository interface {
	Insert(ctx context.Context, e *AuditEvent) error
	Search(ctx context.Context, f AuditFilter, limit, offset int) ([]*AuditEvent, int, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLogger writes audit events and serves the audit search.
type AuditLogger struct {
	repo   AuditRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewAuditLogger(repo AuditRepository, logger zerolog.Logger) *AuditLogger {
	return &AuditLogger{
		repo:   repo,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// LogEvent stores event, filling in the id and timestamp when unset. It joins
// the transaction on ctx when there is one.
func (a *AuditLogger) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = a.now().UTC()
	}
	if err := a.repo.Insert(ctx, event); err != nil {
		a.logger.Error().Err(err).
			Str("event_type", event.EventType).
			Str("actor_id", event.ActorID).
			Msg("failed to write audit event")
		return err
	}
	return nil
}

func (a *AuditLogger) Search(ctx context.Context, f AuditFilter, limit, offset int) ([]*AuditEvent, int, error) {
	return a.repo.Search(ctx, f, limit, offset)
}

// PurgeBefore deletes audit events created before cutoff.
func (a *AuditLogger) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return a.repo.PurgeBefore(ctx, cutoff)
}
