package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/healthqueue/healthqueue/internal/config"
	"github.com/healthqueue/healthqueue/internal/domain/patient"
	"github.com/healthqueue/healthqueue/internal/domain/queue"
	"github.com/healthqueue/healthqueue/internal/domain/settings"
	"github.com/healthqueue/healthqueue/internal/platform/db"
	"github.com/healthqueue/healthqueue/internal/platform/hipaa"
	"github.com/healthqueue/healthqueue/internal/platform/metrics"
	"github.com/healthqueue/healthqueue/internal/platform/redisconn"
	"github.com/healthqueue/healthqueue/internal/platform/signage"
	"github.com/healthqueue/healthqueue/internal/platform/websocket"
)

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "healthqueue",
	})
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	return redisconn.New(ctx, redisconn.Config{URL: cfg.RedisURL, PoolSize: cfg.RedisPool, MaxRetries: 3})
}

func txRunner(pool *pgxpool.Pool) settings.TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	}
}

// app holds the wired services shared by the server and the CLI commands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	audit     *hipaa.AuditLogger
	settings  *settings.Service
	retention *hipaa.RetentionService
	patients  *patient.Service
	queue     *queue.Service
	engine    *queue.Engine
	hub       *websocket.Hub
	relay     *signage.Relay

	unsubscribe []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rdb, err := connectRedis(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, pool: pool, redis: rdb}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	a.audit = hipaa.NewAuditLogger(hipaa.NewAuditRepoPG(pool), logger)
	recorder := auditRecorder{audit: a.audit}

	a.settings = settings.NewService(settings.NewRepoPG(pool), recorder, logger, settings.WithTxRunner(txRunner(pool)))
	if err := a.settings.Reload(ctx); err != nil {
		logger.Warn().Err(err).Msg("settings unavailable, starting with defaults")
	}

	a.retention = hipaa.NewRetentionService(hipaa.DefaultRetentionPolicies(a.settings.Current().System.DataRetention), logger)
	a.retention.SetRecorder(a.metrics)
	a.unsubscribe = append(a.unsubscribe, syncRetention(a.settings, a.retention))

	a.hub = websocket.NewHub(logger, websocket.DefaultTopics, websocket.TopicBoard)
	targets := []websocket.EventPublisher{a.hub}
	if cfg.SignageEnabled() {
		a.relay, err = signage.NewRelay(signage.Config{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			UUID:         cfg.PubNubUUID,
			Channel:      cfg.PubNubChannel,
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		targets = append(targets, a.relay)
	}
	publisher := newDisplayPublisher(a.settings, logger, targets...)

	a.patients = patient.NewService(patient.NewRepoPG(pool))
	store := queue.NewStorePG(pool)
	a.engine = queue.NewEngine(store, a.settings, publisher, logger,
		queue.WithFetchTimeout(cfg.QueueFetchTimeout),
		queue.WithEngineRecorder(a.metrics),
	)
	a.queue = queue.NewService(
		store,
		queue.NewRedisAllocator(rdb, cfg.QueueCounterKey),
		patient.NewDirectory(patient.NewRepoPG(pool)),
		a.settings,
		recorder,
		publisher,
		logger,
		queue.WithEnqueueRetries(cfg.QueueEnqueueRetries),
		queue.WithRecorder(a.metrics),
		queue.WithRefresher(a.engine),
	)

	a.retention.Register(hipaa.ResourceQueueEntry, a.queue)
	a.retention.Register(hipaa.ResourceAuditLog, a.audit)
	return a, nil
}

func (a *app) Close() {
	for _, fn := range a.unsubscribe {
		fn()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
