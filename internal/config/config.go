// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; signs kiosk device tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; verifies device and owner access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "kiosk-auth").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "kiosk-api").
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// DefaultCodeLimit is the kiosk code limit used when billing has no tier row for a role.
	DefaultCodeLimit int `mapstructure:"KIOSK_DEFAULT_CODE_LIMIT"`
	// UndoWindow is how long a SIMPLE completion stays reversible (e.g. "5m").
	UndoWindow string `mapstructure:"UNDO_WINDOW"`
	// SweepInterval is how often the worker expires stale codes and sessions (e.g. "1m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// RedisAddr enables the Redis change notifier and tier limit cache when set (e.g. "localhost:6379").
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// NotifyRedisChannel is the pub/sub channel change events are published to.
	NotifyRedisChannel string `mapstructure:"NOTIFY_REDIS_CHANNEL"`
	// TierCacheTTL is how long a role's kiosk code limit is cached in Redis (e.g. "5m").
	TierCacheTTL string `mapstructure:"TIER_CACHE_TTL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; enables the Kafka notifier when set.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the Kafka topic for change events.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or console.
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "kiosk-auth")
	v.SetDefault("JWT_AUDIENCE", "kiosk-api")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KIOSK_DEFAULT_CODE_LIMIT", 1)
	v.SetDefault("UNDO_WINDOW", "5m")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("NOTIFY_REDIS_CHANNEL", "kiosk-changes")
	v.SetDefault("TIER_CACHE_TTL", "5m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "kiosk-changes")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DefaultCodeLimit < 0 {
		return nil, errors.New("config: KIOSK_DEFAULT_CODE_LIMIT must not be negative")
	}
	if d, err := time.ParseDuration(cfg.UndoWindow); err != nil || d <= 0 {
		return nil, errors.New("config: UNDO_WINDOW must be a positive duration")
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return nil, errors.New("config: LOG_FORMAT must be json or console")
	}

	return &cfg, nil
}

// UndoWindowDuration parses UndoWindow. Returns 5m if unset or invalid.
func (c *Config) UndoWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.UndoWindow)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// SweepIntervalDuration parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// TierCacheTTLDuration parses TierCacheTTL. Returns 5m if unset or invalid.
func (c *Config) TierCacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TierCacheTTL)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka notifier.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
