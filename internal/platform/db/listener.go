package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// NotificationHandler receives the payload of a NOTIFY on its channel.
type NotificationHandler func(payload string)

const (
	listenMinBackoff = 500 * time.Millisecond
	listenMaxBackoff = 30 * time.Second
)

// Listener holds one pooled connection in LISTEN mode and dispatches
// notifications by channel. The connection is re-established with backoff
// after a failure, and OnReconnect runs once it is back so callers can
// resynchronize whatever they missed.
type Listener struct {
	pool     *pgxpool.Pool
	handlers map[string]NotificationHandler
	logger   zerolog.Logger

	// OnReconnect runs after a dropped connection is listening again.
	OnReconnect func()
}

func NewListener(pool *pgxpool.Pool, logger zerolog.Logger) *Listener {
	return &Listener{
		pool:     pool,
		handlers: make(map[string]NotificationHandler),
		logger:   logger.With().Str("component", "pg-listener").Logger(),
	}
}

// Handle registers h for channel. Register before calling Run.
func (l *Listener) Handle(channel string, h NotificationHandler) {
	l.handlers[channel] = h
}

// Run blocks until ctx is canceled.
func (l *Listener) Run(ctx context.Context) {
	backoff := listenMinBackoff
	connected := false
	for {
		err := l.listen(ctx, func() {
			if connected && l.OnReconnect != nil {
				l.OnReconnect()
			}
			connected = true
			backoff = listenMinBackoff
		})
		if ctx.Err() != nil {
			return
		}
		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("listener connection lost")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = NextBackoff(backoff)
	}
}

func (l *Listener) listen(ctx context.Context, ready func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	for channel := range l.handlers {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", channel, err)
		}
	}
	l.logger.Info().Int("channels", len(l.handlers)).Msg("listening for notifications")
	ready()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			// The connection may be mid-protocol; do not return it to the pool.
			if !errors.Is(err, context.Canceled) {
				conn.Hijack().Close(context.Background()) //nolint:errcheck
			}
			return err
		}
		if h, ok := l.handlers[n.Channel]; ok {
			h(n.Payload)
		}
	}
}

// NextBackoff doubles d up to the listener's ceiling.
func NextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > listenMaxBackoff {
		return listenMaxBackoff
	}
	return d
}
