// Package signage mirrors display events to remote screens over PubNub.
package signage

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go"
	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/platform/websocket"
)

type Config struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UUID         string
	Channel      string
}

// Enabled reports whether enough keys are set to publish.
func (c Config) Enabled() bool {
	return c.PublishKey != "" && c.SubscribeKey != "" && c.Channel != ""
}

type publishFunc func(channel string, message any) error

// Relay publishes events in the background so a slow PubNub round trip never
// delays a board refresh. Events are dropped when the buffer is full.
type Relay struct {
	channel string
	publish publishFunc
	events  chan websocket.Event
	logger  zerolog.Logger
}

func NewRelay(cfg Config, logger zerolog.Logger) (*Relay, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("signage: publish key, subscribe key and channel are required")
	}
	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PublishKey
	pnConfig.SubscribeKey = cfg.SubscribeKey
	pnConfig.SecretKey = cfg.SecretKey
	if cfg.UUID != "" {
		pnConfig.UUID = cfg.UUID
	}
	pn := pubnub.NewPubNub(pnConfig)

	return newRelay(cfg.Channel, func(channel string, message any) error {
		_, _, err := pn.Publish().
			Channel(channel).
			Message(message).
			Execute()
		return err
	}, logger), nil
}

func newRelay(channel string, publish publishFunc, logger zerolog.Logger) *Relay {
	return &Relay{
		channel: channel,
		publish: publish,
		events:  make(chan websocket.Event, 64),
		logger:  logger.With().Str("component", "signage").Logger(),
	}
}

// Publish implements websocket.EventPublisher.
func (r *Relay) Publish(_ context.Context, event websocket.Event) error {
	select {
	case r.events <- event:
		return nil
	default:
		return fmt.Errorf("signage: relay buffer full, dropped %s", event.Type)
	}
}

// Run drains queued events until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			msg := map[string]any{
				"type":      ev.Type,
				"topic":     ev.Topic,
				"timestamp": ev.Timestamp,
				"data":      ev.Data,
			}
			if err := r.publish(r.channel, msg); err != nil {
				r.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("signage publish failed")
			}
		}
	}
}
