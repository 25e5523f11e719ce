package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultFetchTimeout = 5 * time.Second

// Engine keeps the in-memory board in step with the store. Pushes (Trigger)
// and the polling timer both end in Refresh, which re-derives the board from
// a full fetch, so duplicate or reordered triggers converge on the same state.
type Engine struct {
	store     Store
	settings  SettingsSource
	publisher Publisher
	metrics   Recorder
	logger    zerolog.Logger

	fetchTimeout time.Duration
	now          func() time.Time

	fetchSeq atomic.Uint64

	// applyMu serializes applying a fetch and publishing its output so that
	// subscribers observe boards in fetch order.
	applyMu sync.Mutex

	mu          sync.RWMutex
	board       *Board
	loaded      bool
	appliedSeq  uint64
	announced   map[uuid.UUID]struct{}
	lastErr     error
	lastSuccess time.Time
	alerted     bool

	trigger     chan struct{}
	reconfigure chan struct{}
}

type EngineOption func(*Engine)

func WithFetchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.fetchTimeout = d
		}
	}
}

func WithEngineRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.metrics = r
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, settings SettingsSource, publisher Publisher, logger zerolog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:        store,
		settings:     settings,
		publisher:    publisher,
		metrics:      nopRecorder{},
		logger:       logger.With().Str("component", "queue-engine").Logger(),
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		announced:    make(map[uuid.UUID]struct{}),
		trigger:      make(chan struct{}, 1),
		reconfigure:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Refresh fetches the active queue and replaces the board. On failure the
// previous board is kept and returned alongside an ErrStoreUnavailable error.
// A fetch that completes after a newer one has already been applied is
// discarded, as is any fetch whose context was canceled.
func (e *Engine) Refresh(ctx context.Context) (*Board, error) {
	seq := e.fetchSeq.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	entries, err := e.store.ListActive(fetchCtx)
	cancel()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return e.fail(seq, err)
	}

	board := Project(entries, e.now().UTC())

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	if seq < e.appliedSeq {
		current := e.board
		e.mu.Unlock()
		e.logger.Debug().Uint64("seq", seq).Msg("discarding stale queue fetch")
		return current, nil
	}
	e.appliedSeq = seq
	fresh := e.markServing(board)
	recovered := e.lastErr != nil
	e.board = board
	e.loaded = true
	e.lastErr = nil
	e.alerted = false
	e.lastSuccess = board.GeneratedAt
	e.mu.Unlock()

	if recovered {
		e.logger.Info().Msg("queue store reachable again")
	}
	e.metrics.Refreshed(true)
	e.metrics.BoardStats(StatsOf(board))

	e.publisher.PublishBoard(board)
	for _, en := range fresh {
		e.publisher.PublishAnnouncement(newAnnouncement(en, board.GeneratedAt))
		e.metrics.Announced()
		e.logger.Info().
			Str("entry_id", en.ID.String()).
			Int("queue_number", en.QueueNumber).
			Msg("now serving")
	}
	return board, nil
}

// markServing replaces the announced set with the board's serving entries and
// returns those not present before. The first successful fetch seeds the set
// without returning anything. Callers hold e.mu.
func (e *Engine) markServing(b *Board) []*Entry {
	current := make(map[uuid.UUID]struct{}, len(b.Serving))
	var fresh []*Entry
	for _, en := range b.Serving {
		current[en.ID] = struct{}{}
		if !e.loaded {
			continue
		}
		if _, seen := e.announced[en.ID]; !seen {
			fresh = append(fresh, en)
		}
	}
	e.announced = current
	return fresh
}

func (e *Engine) fail(seq uint64, cause error) (*Board, error) {
	err := cause
	if !errors.Is(err, ErrStoreUnavailable) {
		err = fmt.Errorf("refresh queue: %w: %w", ErrStoreUnavailable, cause)
	}
	e.metrics.Refreshed(false)

	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	e.mu.Lock()
	alert := false
	if seq >= e.appliedSeq {
		e.lastErr = err
		if !e.alerted {
			e.alerted = true
			alert = true
		}
	}
	board := e.board
	e.mu.Unlock()

	e.logger.Warn().Err(cause).Bool("has_board", board != nil).Msg("queue refresh failed, keeping last board")
	if alert && e.settings.QueueSettings().SystemAlerts {
		e.publisher.PublishNotification(Notification{
			Kind:    NotifySystemAlert,
			Message: "Queue data is temporarily unavailable; the display may be out of date",
			At:      e.now().UTC(),
		})
	}
	return board, err
}

// Trigger requests a refresh from Run without blocking. Triggers that arrive
// while one is already pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run performs an initial refresh, then refreshes on every trigger and on the
// polling interval until ctx is done. The interval follows the settings and
// is re-read whenever they change.
func (e *Engine) Run(ctx context.Context) {
	unsubscribe := e.settings.Subscribe(func() {
		select {
		case e.reconfigure <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	e.refreshLogged(ctx)

	var timer *time.Timer
	var tick <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		tick = nil
		cfg := e.settings.QueueSettings()
		if cfg.AutoRefresh && cfg.RefreshInterval > 0 {
			timer = time.NewTimer(cfg.RefreshInterval)
			tick = timer.C
		}
	}
	arm()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
			e.refreshLogged(ctx)
			arm()
		case <-tick:
			e.refreshLogged(ctx)
			arm()
		case <-e.reconfigure:
			e.logger.Debug().Msg("settings changed, re-arming queue poll")
			e.refreshLogged(ctx)
			arm()
		}
	}
}

func (e *Engine) refreshLogged(ctx context.Context) {
	// Failures are already logged and surfaced through Health.
	_, _ = e.Refresh(ctx)
}

// Board returns the last successfully fetched board and whether one exists.
func (e *Engine) Board() (*Board, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.board, e.board != nil
}

// EngineHealth describes the freshness of the engine's board.
type EngineHealth struct {
	Loaded      bool      `json:"loaded"`
	Stale       bool      `json:"stale"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

func (e *Engine) Health() EngineHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := EngineHealth{Loaded: e.loaded, Stale: e.lastErr != nil, LastSuccess: e.lastSuccess}
	if e.lastErr != nil {
		h.LastError = e.lastErr.Error()
	}
	return h
}

// Display returns the public view of the current board, shaped by the display
// settings. Before the first successful fetch the board is empty.
func (e *Engine) Display() *DisplayBoard {
	e.mu.RLock()
	b := e.board
	stale := e.lastErr != nil
	e.mu.RUnlock()

	if b == nil {
		b = Project(nil, e.now().UTC())
	}
	cfg := e.settings.QueueSettings()
	d := NewDisplayBoard(b, DisplayOptions{MaxItems: cfg.MaxDisplayItems, ShowPriority: cfg.ShowPriority})
	d.Stale = stale
	return d
}
