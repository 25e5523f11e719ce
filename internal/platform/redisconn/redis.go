// Package redisconn builds the shared Redis client used for queue numbering
// and the background job queue.
package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/healthqueue/healthqueue/internal/platform/db"
)

type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// Options parses the URL, falling back to treating it as a bare host:port.
func Options(cfg Config) *redis.Options {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	return opts
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(Options(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type pinger struct {
	client redis.UniversalClient
}

func (p pinger) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Pinger adapts a Redis client to db.Pinger.
func Pinger(client redis.UniversalClient) db.Pinger {
	return pinger{client: client}
}

type PoolStats struct {
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
}

// HealthHandler serves /health/redis.
func HealthHandler(client *redis.Client) echo.HandlerFunc {
	return db.PingHandler(Pinger(client), 2*time.Second, func() any {
		s := client.PoolStats()
		return PoolStats{
			TotalConns: s.TotalConns,
			IdleConns:  s.IdleConns,
			StaleConns: s.StaleConns,
			Hits:       s.Hits,
			Misses:     s.Misses,
			Timeouts:   s.Timeouts,
		}
	})
}
