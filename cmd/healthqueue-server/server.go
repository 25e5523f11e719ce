package main

import (
	"context"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/healthqueue/healthqueue/internal/config"
	"github.com/healthqueue/healthqueue/internal/domain/patient"
	"github.com/healthqueue/healthqueue/internal/domain/queue"
	"github.com/healthqueue/healthqueue/internal/domain/settings"
	"github.com/healthqueue/healthqueue/internal/platform/auth"
	"github.com/healthqueue/healthqueue/internal/platform/db"
	"github.com/healthqueue/healthqueue/internal/platform/hipaa"
	"github.com/healthqueue/healthqueue/internal/platform/jobs"
	"github.com/healthqueue/healthqueue/internal/platform/middleware"
	"github.com/healthqueue/healthqueue/internal/platform/redisconn"
	"github.com/healthqueue/healthqueue/internal/platform/websocket"
)

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
}

// newEcho builds the HTTP surface. Public display and probe routes live on the
// root; everything else is under /api/v1 behind auth, rate limiting and audit.
func newEcho(a *app) *echo.Echo {
	cfg := a.cfg
	logger := a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(a.metrics.Middleware())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	authMW := auth.JWTMiddleware(jwtConfig(cfg))
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtConfig(cfg))
	}
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.BurstSize = cfg.RateLimitBurst

	apiV1 := e.Group("/api/v1",
		middleware.RateLimit(rl),
		authMW,
		middleware.Audit(logger, middleware.AuditConfig{
			Events:  a.audit,
			Enabled: func() bool { return a.settings.Current().System.AuditLog },
		}),
	)

	queueHandler := queue.NewHandler(a.queue, a.engine)
	queueHandler.RegisterRoutes(apiV1)
	queueHandler.RegisterPublicRoutes(e)

	patient.NewHandler(a.patients).RegisterRoutes(apiV1)
	settings.NewHandler(a.settings).RegisterRoutes(apiV1)
	hipaa.NewAuditHandler(a.audit).RegisterRoutes(apiV1)
	hipaa.NewRetentionHandler(a.retention).RegisterRoutes(apiV1)

	websocket.NewHandler(a.hub, cfg.DisplayOrigins, logger).RegisterRoutes(e)

	// Probes
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/health/redis", redisconn.HealthHandler(a.redis))
	e.GET("/metrics", echo.WrapHandler(a.metrics.Handler()))

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: requests without a token are treated as an admin dev user; do not use in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		return err
	}
	defer a.Close()
	logger.Info().Msg("connected to database and redis")

	if highest, err := a.queue.SeedNumbers(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not seed queue numbers")
	} else {
		logger.Info().Int("highest", highest).Msg("queue number counter seeded")
	}

	// Change notifications from other instances and direct database edits.
	listener := db.NewListener(a.pool, logger)
	listener.Handle(cfg.QueueNotifyChannel, func(string) { a.engine.Trigger() })
	reloadSettings := func() {
		if err := a.settings.Reload(ctx); err != nil {
			logger.Warn().Err(err).Msg("settings reload failed")
		}
	}
	listener.Handle(cfg.SettingsNotifyChannel, func(string) { reloadSettings() })
	listener.OnReconnect = func() {
		a.engine.Trigger()
		reloadSettings()
	}

	redisOpt := jobs.RedisOpt(a.redis.Options())
	worker := jobs.NewWorker(redisOpt, cfg.JobsConcurrency, jobs.NewHandlers(a.retention, logger), logger)
	scheduler, err := jobs.NewScheduler(redisOpt, cfg.RetentionCron, logger)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	background := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				logger.Error().Err(err).Str("component", name).Msg("background task stopped")
			}
		}()
	}
	background("engine", loop(a.engine.Run))
	background("listener", loop(listener.Run))
	background("worker", worker.Run)
	background("scheduler", scheduler.Run)
	if a.relay != nil {
		background("signage", loop(a.relay.Run))
	}

	e := newEcho(a)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error().Err(err).Msg("server error")
		stop()
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("server shutdown failed")
	}
	wg.Wait()
	logger.Info().Msg("server stopped")

	return err
}

// loop adapts a run-until-canceled function to the background signature.
func loop(run func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		run(ctx)
		return nil
	}
}
