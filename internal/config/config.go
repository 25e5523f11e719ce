package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	RedisPool   int    `mapstructure:"REDIS_POOL_SIZE"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	DisplayOrigins []string `mapstructure:"DISPLAY_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	TLSEnabled     bool     `mapstructure:"TLS_ENABLED"`
	TLSCertFile    string   `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile     string   `mapstructure:"TLS_KEY_FILE"`

	QueueEnqueueRetries   int           `mapstructure:"QUEUE_ENQUEUE_RETRIES"`
	QueueFetchTimeout     time.Duration `mapstructure:"QUEUE_FETCH_TIMEOUT"`
	QueueCounterKey       string        `mapstructure:"QUEUE_COUNTER_KEY"`
	QueueNotifyChannel    string        `mapstructure:"QUEUE_NOTIFY_CHANNEL"`
	SettingsNotifyChannel string        `mapstructure:"SETTINGS_NOTIFY_CHANNEL"`

	RetentionCron   string `mapstructure:"RETENTION_CRON"`
	JobsConcurrency int    `mapstructure:"JOBS_CONCURRENCY"`

	PubNubPublishKey   string `mapstructure:"PUBNUB_PUBLISH_KEY"`
	PubNubSubscribeKey string `mapstructure:"PUBNUB_SUBSCRIBE_KEY"`
	PubNubSecretKey    string `mapstructure:"PUBNUB_SECRET_KEY"`
	PubNubUUID         string `mapstructure:"PUBNUB_UUID"`
	PubNubChannel      string `mapstructure:"PUBNUB_CHANNEL"`

	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
}

var defaults = map[string]any{
	"PORT":                    "8000",
	"ENV":                     "development",
	"LOG_LEVEL":               "info",
	"DB_MAX_CONNS":            20,
	"DB_MIN_CONNS":            2,
	"REDIS_URL":               "redis://localhost:6379/0",
	"REDIS_POOL_SIZE":         20,
	"CORS_ORIGINS":            "http://localhost:3000",
	"DISPLAY_ORIGINS":         "",
	"RATE_LIMIT_RPS":          50,
	"RATE_LIMIT_BURST":        100,
	"QUEUE_ENQUEUE_RETRIES":   3,
	"QUEUE_FETCH_TIMEOUT":     "5s",
	"QUEUE_COUNTER_KEY":       "healthqueue:queue_number",
	"QUEUE_NOTIFY_CHANNEL":    "queue_changes",
	"SETTINGS_NOTIFY_CHANNEL": "settings_changes",
	"RETENTION_CRON":          "@daily",
	"JOBS_CONCURRENCY":        2,
	"PUBNUB_UUID":             "healthqueue-server",
	"PUBNUB_CHANNEL":          "healthqueue-display",
	"MIGRATIONS_DIR":          "./migrations",
}

// boundOnly are read from the environment but have no default.
var boundOnly = []string{
	"DATABASE_URL",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY",
	"TLS_ENABLED",
	"TLS_CERT_FILE",
	"TLS_KEY_FILE",
	"PUBNUB_PUBLISH_KEY",
	"PUBNUB_SUBSCRIBE_KEY",
	"PUBNUB_SECRET_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, val := range defaults {
		v.SetDefault(key, val)
		v.BindEnv(key)
	}
	for _, key := range boundOnly {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.DisplayOrigins = splitList(v.GetString("DISPLAY_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SignageEnabled reports whether the PubNub relay should start.
func (c *Config) SignageEnabled() bool {
	return c.PubNubPublishKey != "" && c.PubNubSubscribeKey != ""
}

// Validate checks that the configuration is safe to run. Outside development
// a signing key is mandatory so that JWT authentication is enforced.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY must be set when ENV=%q; refusing to start without authentication", c.Env)
	}
	if c.IsProduction() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes in production")
	}
	if c.QueueEnqueueRetries < 1 || c.QueueEnqueueRetries > 10 {
		return fmt.Errorf("QUEUE_ENQUEUE_RETRIES must be between 1 and 10, got %d", c.QueueEnqueueRetries)
	}
	if c.QueueFetchTimeout <= 0 {
		return fmt.Errorf("QUEUE_FETCH_TIMEOUT must be positive, got %s", c.QueueFetchTimeout)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.QueueNotifyChannel == "" || c.SettingsNotifyChannel == "" {
		return fmt.Errorf("QUEUE_NOTIFY_CHANNEL and SETTINGS_NOTIFY_CHANNEL are required")
	}

	// TLS validation: when TLS is enabled, cert and key files must be specified.
	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}

	return nil
}
