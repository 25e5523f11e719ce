package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
)

// Service keeps an in-memory snapshot of the settings so reads never hit the
// store. Every instance reloads on the settings_changes notification.
type Service struct {
	repo     Repository
	recorder ChangeRecorder
	tx       TxRunner
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	current Settings

	subsMu  sync.Mutex
	subs    map[int]func()
	nextSub int
}

type Option func(*Service)

func WithTxRunner(tx TxRunner) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

func NewService(repo Repository, recorder ChangeRecorder, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		recorder: recorder,
		tx:       noTx,
		logger:   logger.With().Str("component", "settings").Logger(),
		now:      time.Now,
		current:  Defaults(),
		subs:     make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// QueueSettings satisfies queue.SettingsSource.
func (s *Service) QueueSettings() queue.Settings {
	return s.Current().QueueView()
}

// Subscribe registers fn to run after every change and returns a function
// that removes it.
func (s *Service) Subscribe(fn func()) (unsubscribe func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Service) notify() {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// swap installs next and reports whether it differs from the previous value.
func (s *Service) swap(next Settings) (Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev, !reflect.DeepEqual(prev, next)
}

// Reload re-reads the store and notifies subscribers only on a change. A
// malformed stored document is logged and the defaults are used.
func (s *Service) Reload(ctx context.Context) error {
	doc, err := s.repo.Load(ctx)
	if err != nil {
		return err
	}
	next, err := Decode(doc)
	if err != nil {
		s.logger.Error().Err(err).Msg("stored settings are malformed, using defaults")
	}
	if _, changed := s.swap(next); changed {
		s.logger.Info().Msg("settings reloaded")
		s.notify()
	}
	return nil
}

func (s *Service) Update(ctx context.Context, next Settings, actor Actor) (Settings, error) {
	return s.write(ctx, next, actor, false)
}

func (s *Service) Reset(ctx context.Context, actor Actor) (Settings, error) {
	return s.write(ctx, Defaults(), actor, true)
}

func (s *Service) write(ctx context.Context, next Settings, actor Actor, reset bool) (Settings, error) {
	if err := next.Validate(); err != nil {
		return s.Current(), err
	}
	doc, err := json.Marshal(next)
	if err != nil {
		return s.Current(), fmt.Errorf("encode settings: %w", err)
	}

	prev := s.Current()
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repo.Save(ctx, doc, actor.ID); err != nil {
			return err
		}
		if s.recorder == nil {
			return nil
		}
		return s.recorder.RecordSettingsChange(ctx, Change{
			Old: prev, New: next, Actor: actor, Reset: reset, At: s.now().UTC(),
		})
	})
	if err != nil {
		return prev, err
	}

	if _, changed := s.swap(next); changed {
		s.notify()
	}
	s.logger.Info().Str("actor", actor.ID).Bool("reset", reset).Msg("settings updated")
	return next, nil
}
