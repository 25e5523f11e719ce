package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/domain/queue"
	"github.com/healthqueue/healthqueue/internal/domain/settings"
	"github.com/healthqueue/healthqueue/internal/platform/hipaa"
	"github.com/healthqueue/healthqueue/internal/platform/websocket"
)

// displayPublisher fans engine output out to the websocket hub and, when
// configured, the signage relay. Boards are trimmed to the public view first.
type displayPublisher struct {
	targets  []websocket.EventPublisher
	settings queue.SettingsSource
	logger   zerolog.Logger
	now      func() time.Time
}

func newDisplayPublisher(settings queue.SettingsSource, logger zerolog.Logger, targets ...websocket.EventPublisher) *displayPublisher {
	return &displayPublisher{targets: targets, settings: settings, logger: logger, now: time.Now}
}

func (p *displayPublisher) send(topic, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("failed to encode display event")
		return
	}
	ev := websocket.Event{Type: kind, Topic: topic, Timestamp: p.now().UTC(), Data: data}
	for _, t := range p.targets {
		if err := t.Publish(context.Background(), ev); err != nil {
			p.logger.Warn().Err(err).Str("topic", topic).Msg("display publish failed")
		}
	}
}

func (p *displayPublisher) PublishBoard(b *queue.Board) {
	cfg := p.settings.QueueSettings()
	d := queue.NewDisplayBoard(b, queue.DisplayOptions{MaxItems: cfg.MaxDisplayItems, ShowPriority: cfg.ShowPriority})
	p.send(websocket.TopicBoard, "board", d)
}

func (p *displayPublisher) PublishAnnouncement(a queue.Announcement) {
	p.send(websocket.TopicAnnounce, "announcement", a)
}

func (p *displayPublisher) PublishNotification(n queue.Notification) {
	p.send(websocket.TopicNotify, string(n.Kind), n)
}

// auditRecorder writes queue and settings changes to the audit trail.
type auditRecorder struct {
	audit *hipaa.AuditLogger
}

func (r auditRecorder) RecordPriorityOverride(ctx context.Context, rec queue.OverrideRecord) error {
	return r.audit.LogEvent(ctx, &hipaa.AuditEvent{
		EventType:     hipaa.EventPriorityOverride,
		Action:        "override_queue_priority",
		ResourceType:  "queue",
		ResourceID:    rec.EntryID.String(),
		ActorID:       rec.Actor.ID,
		ActorEmail:    rec.Actor.Email,
		ActorRole:     rec.Actor.Role,
		AccessGranted: true,
		Details: map[string]any{
			"from":          string(rec.FromPriority),
			"to":            string(rec.ToPriority),
			"justification": rec.Justification,
			"timestamp":     rec.Timestamp.UTC().Format(time.RFC3339),
		},
		CreatedAt: rec.Timestamp,
	})
}

func (r auditRecorder) RecordSettingsChange(ctx context.Context, ch settings.Change) error {
	action := "update_settings"
	if ch.Reset {
		action = "reset_settings"
	}
	return r.audit.LogEvent(ctx, &hipaa.AuditEvent{
		EventType:     hipaa.EventSettingsChange,
		Action:        action,
		ResourceType:  "settings",
		ActorID:       ch.Actor.ID,
		ActorEmail:    ch.Actor.Email,
		ActorRole:     ch.Actor.Role,
		AccessGranted: true,
		Details: map[string]any{
			"old": ch.Old,
			"new": ch.New,
		},
		CreatedAt: ch.At,
	})
}

// syncRetention keeps the queue retention policy in step with the
// system.dataRetention setting.
func syncRetention(svc *settings.Service, retention *hipaa.RetentionService) (unsubscribe func()) {
	apply := func() {
		retention.SetRetentionDays(hipaa.ResourceQueueEntry, svc.Current().System.DataRetention)
	}
	apply()
	return svc.Subscribe(apply)
}
