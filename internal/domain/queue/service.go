package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	DefaultEnqueueRetries = 3
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 200
)

type Service struct {
	store     Store
	numbers   NumberAllocator
	patients  PatientDirectory
	settings  SettingsSource
	audit     AuditRecorder
	publisher Publisher
	refresher Refresher
	metrics   Recorder
	logger    zerolog.Logger

	retries int
	now     func() time.Time
}

type ServiceOption func(*Service)

func WithEnqueueRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

func WithRefresher(r Refresher) ServiceOption {
	return func(s *Service) { s.refresher = r }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, numbers NumberAllocator, patients PatientDirectory, settings SettingsSource,
	audit AuditRecorder, publisher Publisher, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		numbers:   numbers,
		patients:  patients,
		settings:  settings,
		audit:     audit,
		publisher: publisher,
		metrics:   nopRecorder{},
		logger:    logger.With().Str("component", "queue-service").Logger(),
		retries:   DefaultEnqueueRetries,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedNumbers raises the allocator above every number the store has seen.
func (s *Service) SeedNumbers(ctx context.Context) (int, error) {
	highest, err := s.store.MaxQueueNumber(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.numbers.Seed(ctx, highest); err != nil {
		return 0, err
	}
	return highest, nil
}

// -- Enqueue --

type EnqueueRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	// Priority forces the band when set; otherwise eligibility decides.
	Priority *Priority `json:"priority,omitempty"`
}

type EnqueueResult struct {
	Entry   *Entry   `json:"entry"`
	Reasons []string `json:"reasons"`
}

func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest, actor Actor) (*EnqueueResult, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.Priority != nil && *req.Priority == PriorityPriority && !actor.CanAddPriority() {
		return nil, ErrPriorityNotAllowed
	}

	patient, err := s.patients.Lookup(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	cfg := s.settings.QueueSettings()
	var priority Priority
	reasons := []string{}
	auto := req.Priority == nil
	if auto {
		elig := Resolve(*patient, cfg.Rules)
		priority = elig.Priority()
		reasons = elig.Reasons
	} else {
		priority = *req.Priority
	}

	entry := &Entry{
		PatientID:   patient.ID,
		PatientName: patient.DisplayName,
		Priority:    priority,
		Status:      StatusWaiting,
		Timestamp:   s.now().UTC(),
	}
	if err := s.insertWithNumber(ctx, entry); err != nil {
		return nil, err
	}

	s.metrics.Enqueued(priority, auto)
	s.logger.Info().
		Str("entry_id", entry.ID.String()).
		Int("queue_number", entry.QueueNumber).
		Str("priority", string(priority)).
		Strs("reasons", reasons).
		Msg("patient enqueued")

	if cfg.QueueUpdates {
		msg := fmt.Sprintf("%s added to queue as number %d", entry.PatientName, entry.QueueNumber)
		if len(reasons) > 0 {
			msg += " (priority: " + strings.Join(reasons, ", ") + ")"
		}
		s.publisher.PublishNotification(Notification{
			Kind:    NotifyQueueUpdate,
			Message: msg,
			Reasons: reasons,
			At:      entry.Timestamp,
		})
	}
	s.changed()

	return &EnqueueResult{Entry: entry, Reasons: reasons}, nil
}

// insertWithNumber assigns the next queue number and inserts the entry. A
// unique-constraint collision reseeds the allocator from the store and retries
// with a fresh number.
func (s *Service) insertWithNumber(ctx context.Context, e *Entry) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		n, err := s.numbers.Next(ctx)
		if err != nil {
			return err
		}
		e.ID = uuid.New()
		e.QueueNumber = n

		err = s.store.Insert(ctx, e)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}

		lastErr = err
		s.metrics.EnqueueConflict()
		s.logger.Debug().Err(err).Int("queue_number", n).Int("attempt", attempt).Msg("queue number collision")
		if _, err := s.SeedNumbers(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("enqueue gave up after %d attempts: %w", s.retries, lastErr)
}

// -- Status transitions --

func (s *Service) Call(ctx context.Context, id uuid.UUID, actor Actor) (*Entry, error) {
	return s.Transition(ctx, id, ActionCall, actor)
}

func (s *Service) Serve(ctx context.Context, id uuid.UUID, actor Actor) (*Entry, error) {
	return s.Transition(ctx, id, ActionServe, actor)
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Entry, error) {
	return s.Transition(ctx, id, ActionComplete, actor)
}

// SetStatus moves an entry to the target status through the single action
// that leads there.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status, actor Actor) (*Entry, error) {
	action, err := ActionFor(to)
	if err != nil {
		return nil, err
	}
	return s.Transition(ctx, id, action, actor)
}

// Transition applies an action to an entry. Invalid edges are rejected before
// the store is written; the store update itself is conditional on the status
// read here so a concurrent transition cannot be overwritten.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, action Action, actor Actor) (*Entry, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := NextStatus(action, current.Status)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, id, current.Status, next)
	if err != nil {
		return nil, err
	}

	s.metrics.Transitioned(current.Status, next)
	s.logger.Info().
		Str("entry_id", id.String()).
		Int("queue_number", updated.QueueNumber).
		Str("from", string(current.Status)).
		Str("to", string(next)).
		Str("actor", actor.ID).
		Msg("queue status changed")
	s.changed()
	return updated, nil
}

// -- Priority override --

func (s *Service) OverridePriority(ctx context.Context, id uuid.UUID, to Priority, justification string, actor Actor) (*Entry, error) {
	if !actor.CanAddPriority() {
		return nil, ErrPriorityNotAllowed
	}
	justification = strings.TrimSpace(justification)
	if justification == "" {
		return nil, ErrJustificationRequired
	}
	if to != PriorityNormal && to != PriorityPriority {
		return nil, fmt.Errorf("invalid priority: %q", to)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Priority == to {
		return current, nil
	}

	updated, err := s.store.UpdatePriority(ctx, id, to)
	if err != nil {
		return nil, err
	}

	rec := OverrideRecord{
		EntryID:       id,
		FromPriority:  current.Priority,
		ToPriority:    to,
		Justification: justification,
		Actor:         actor,
		Timestamp:     s.now().UTC(),
	}
	if err := s.audit.RecordPriorityOverride(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("entry_id", id.String()).Msg("failed to record priority override")
	}

	s.metrics.Overridden(to)
	s.logger.Info().
		Str("entry_id", id.String()).
		Str("from", string(current.Priority)).
		Str("to", string(to)).
		Str("actor", actor.ID).
		Msg("queue priority overridden")
	s.changed()
	return updated, nil
}

// -- Removal --

func (s *Service) Remove(ctx context.Context, id uuid.UUID, actor Actor) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.metrics.Removed()
	s.logger.Info().Str("entry_id", id.String()).Str("actor", actor.ID).Msg("queue entry removed")
	s.changed()
	return nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) History(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.History(ctx, limit)
}

// PurgeBefore drops completed entries last touched before cutoff.
func (s *Service) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.changed()
	}
	return n, nil
}

func (s *Service) changed() {
	if s.refresher != nil {
		s.refresher.Trigger()
	}
}
