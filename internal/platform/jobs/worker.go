package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisOpt reuses the application's Redis settings for asynq.
func RedisOpt(o *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

// Worker processes queued tasks until its context is canceled.
type Worker struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

func NewWorker(opt asynq.RedisConnOpt, concurrency int, h *Handlers, logger zerolog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 3,
			"low":     1,
		},
		Logger:   newAsynqLogger(logger),
		LogLevel: asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).
				Str("task", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
		ShutdownTimeout: 15 * time.Second,
	})
	return &Worker{srv: srv, mux: NewServeMux(h)}
}

func (w *Worker) Run(ctx context.Context) error {
	if err := w.srv.Start(w.mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	<-ctx.Done()
	w.srv.Shutdown()
	return nil
}

// Scheduler enqueues the retention purge on a cron schedule.
type Scheduler struct {
	s      *asynq.Scheduler
	logger zerolog.Logger
}

func NewScheduler(opt asynq.RedisConnOpt, cronspec string, logger zerolog.Logger) (*Scheduler, error) {
	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.Local,
		Logger:   newAsynqLogger(logger),
		LogLevel: asynq.WarnLevel,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			switch {
			case errors.Is(err, asynq.ErrDuplicateTask):
				logger.Debug().Msg("retention purge already pending")
			case err != nil:
				logger.Error().Err(err).Msg("failed to enqueue scheduled task")
			default:
				logger.Debug().Str("task_id", info.ID).Str("task", info.Type).Msg("scheduled task enqueued")
			}
		},
	})

	task, err := NewRetentionPurgeTask("schedule")
	if err != nil {
		return nil, err
	}
	if _, err := s.Register(cronspec, task, asynq.Queue("low"), asynq.Unique(time.Hour)); err != nil {
		return nil, fmt.Errorf("register %s on %q: %w", TypeRetentionPurge, cronspec, err)
	}
	return &Scheduler{s: s, logger: logger}, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.s.Start(); err != nil {
		return fmt.Errorf("start asynq scheduler: %w", err)
	}
	<-ctx.Done()
	s.s.Shutdown()
	return nil
}

// asynqLogger forwards asynq's internal logging to zerolog.
type asynqLogger struct {
	logger zerolog.Logger
}

func newAsynqLogger(logger zerolog.Logger) asynqLogger {
	return asynqLogger{logger: logger.With().Str("component", "asynq").Logger()}
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
