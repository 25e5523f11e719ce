// Package jobs runs periodic maintenance on the asynq task queue.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const TypeRetentionPurge = "retention:purge"

type RetentionPurgePayload struct {
	// Trigger names who asked for the purge: "schedule" or "cli".
	Trigger string `json:"trigger"`
}

func NewRetentionPurgeTask(trigger string) (*asynq.Task, error) {
	payload, err := json.Marshal(RetentionPurgePayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRetentionPurge, payload, asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)), nil
}

// Purger is satisfied by *hipaa.RetentionService.
type Purger interface {
	RunPurge(ctx context.Context, now time.Time) (map[string]int64, error)
}

type Handlers struct {
	purger Purger
	logger zerolog.Logger
	now    func() time.Time
}

func NewHandlers(purger Purger, logger zerolog.Logger) *Handlers {
	return &Handlers{purger: purger, logger: logger, now: time.Now}
}

func (h *Handlers) HandleRetentionPurge(ctx context.Context, t *asynq.Task) error {
	var payload RetentionPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode %s payload: %v: %w", TypeRetentionPurge, err, asynq.SkipRetry)
		}
	}

	counts, err := h.purger.RunPurge(ctx, h.now())

	types := make([]string, 0, len(counts))
	for rt := range counts {
		types = append(types, rt)
	}
	sort.Strings(types)
	evt := h.logger.Info()
	if err != nil {
		evt = h.logger.Error().Err(err)
	}
	dict := zerolog.Dict()
	for _, rt := range types {
		dict = dict.Int64(rt, counts[rt])
	}
	evt.Str("trigger", payload.Trigger).Dict("purged", dict).Msg("retention purge finished")
	return err
}

// NewServeMux routes every task type this package knows about.
func NewServeMux(h *Handlers) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRetentionPurge, h.HandleRetentionPurge)
	return mux
}
