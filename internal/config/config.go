// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Correlation store backends accepted by CORRELATION_BACKEND.
const (
	CorrelationMemory = "memory"
	CorrelationRedis  = "redis"
	CorrelationSQLite = "sqlite"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty selects the in-memory store (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// Timezone is the IANA zone that defines calendar-day boundaries for sessions.
	Timezone string `mapstructure:"APP_TIMEZONE"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// CorrelationBackend selects where per-client correlation entries live: memory, redis or sqlite.
	CorrelationBackend string `mapstructure:"CORRELATION_BACKEND"`
	// RedisURL is the Redis URL for the redis correlation backend (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// CorrelationSQLitePath is the database file for the sqlite correlation backend.
	CorrelationSQLitePath string `mapstructure:"CORRELATION_SQLITE_PATH"`

	// IdleTimeout is how long without activity signals before a session is closed (e.g. "30m").
	IdleTimeout string `mapstructure:"IDLE_TIMEOUT"`
	// IdleCheckInterval is the idle detector tick (e.g. "5m").
	IdleCheckInterval string `mapstructure:"IDLE_CHECK_INTERVAL"`
	// ActivityFlushInterval bounds how often last_activity is written for one session.
	ActivityFlushInterval string `mapstructure:"ACTIVITY_FLUSH_INTERVAL"`
	// BeaconTimeout bounds the best-effort unload flush.
	BeaconTimeout string `mapstructure:"BEACON_TIMEOUT"`

	// ReconcileInterval is how often stale sessions are closed after the startup run (e.g. "24h").
	ReconcileInterval string `mapstructure:"RECONCILE_INTERVAL"`
	// ReconcileLimit caps the stale rows closed per run.
	ReconcileLimit int `mapstructure:"RECONCILE_LIMIT"`
	// DuplicateScanLimit caps the open rows inspected per duplicate cleanup.
	DuplicateScanLimit int `mapstructure:"DUPLICATE_SCAN_LIMIT"`
	// CleanupBatchSize is the number of rows written per cleanup batch.
	CleanupBatchSize int `mapstructure:"CLEANUP_BATCH_SIZE"`
	// CleanupBatchPause is the pause between cleanup batches (e.g. "100ms").
	CleanupBatchPause string `mapstructure:"CLEANUP_BATCH_PAUSE"`

	// TrustedProxies is a comma-separated list of proxy IPs or CIDRs whose X-Forwarded-For is honoured.
	// Empty trusts no proxy and the client IP is the connection's remote address.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// IPLookupURL is an optional plain-text IP echo service used when the request carries no client IP.
	IPLookupURL string `mapstructure:"IP_LOOKUP_URL"`

	// OperatorJWTSecret is the HS256 secret for operator tokens. Admin routes are disabled when empty.
	OperatorJWTSecret string `mapstructure:"OPERATOR_JWT_SECRET"`
	// OperatorPasswordHash is the bcrypt hash exchanged for an operator token.
	OperatorPasswordHash string `mapstructure:"OPERATOR_PASSWORD_HASH"`
	// OperatorTokenTTL is the operator token lifetime (e.g. "1h").
	OperatorTokenTTL string `mapstructure:"OPERATOR_TOKEN_TTL"`
	// OperatorPolicyFile is an optional Rego file replacing the built-in admin policy.
	OperatorPolicyFile string `mapstructure:"OPERATOR_POLICY_FILE"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// OTLPEndpoint is the OTLP gRPC collector; empty yields no-op providers.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses; session events are emitted when set.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// ActivityKafkaTopic is the Kafka topic for session lifecycle events.
	ActivityKafkaTopic string `mapstructure:"ACTIVITY_KAFKA_TOPIC"`
	// Worker-only: KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: LokiURL is where the worker pushes events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
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
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("APP_TIMEZONE", "Local")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORRELATION_BACKEND", CorrelationMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CORRELATION_SQLITE_PATH", "activity-correlation.db")
	v.SetDefault("IDLE_TIMEOUT", "30m")
	v.SetDefault("IDLE_CHECK_INTERVAL", "5m")
	v.SetDefault("ACTIVITY_FLUSH_INTERVAL", "1m")
	v.SetDefault("BEACON_TIMEOUT", "5s")
	v.SetDefault("RECONCILE_INTERVAL", "24h")
	v.SetDefault("RECONCILE_LIMIT", 50)
	v.SetDefault("DUPLICATE_SCAN_LIMIT", 100)
	v.SetDefault("CLEANUP_BATCH_SIZE", 10)
	v.SetDefault("CLEANUP_BATCH_PAUSE", "100ms")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("IP_LOOKUP_URL", "")
	v.SetDefault("OPERATOR_JWT_SECRET", "")
	v.SetDefault("OPERATOR_PASSWORD_HASH", "")
	v.SetDefault("OPERATOR_TOKEN_TTL", "1h")
	v.SetDefault("OPERATOR_POLICY_FILE", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ACTIVITY_KAFKA_TOPIC", "club-activity-events")
	v.SetDefault("KAFKA_GROUP_ID", "club-activity-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, errors.New("config: APP_TIMEZONE is not a valid IANA time zone")
	}

	switch cfg.CorrelationBackend {
	case CorrelationMemory, CorrelationSQLite:
	case CorrelationRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("config: REDIS_URL must be set when CORRELATION_BACKEND=redis")
		}
	default:
		return nil, errors.New("config: CORRELATION_BACKEND must be one of memory, redis, sqlite")
	}

	if cfg.ReconcileLimit <= 0 {
		return nil, errors.New("config: RECONCILE_LIMIT must be positive")
	}
	if cfg.DuplicateScanLimit <= 0 {
		return nil, errors.New("config: DUPLICATE_SCAN_LIMIT must be positive")
	}
	if cfg.CleanupBatchSize <= 0 {
		return nil, errors.New("config: CLEANUP_BATCH_SIZE must be positive")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	return &cfg, nil
}

// Location returns the time zone for calendar-day boundaries. Falls back to time.Local.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IdleTimeoutDuration parses IdleTimeout. Returns 30m if unset or invalid.
func (c *Config) IdleTimeoutDuration() time.Duration {
	return parseDuration(c.IdleTimeout, 30*time.Minute)
}

// IdleCheckIntervalDuration parses IdleCheckInterval. Returns 5m if unset or invalid.
func (c *Config) IdleCheckIntervalDuration() time.Duration {
	return parseDuration(c.IdleCheckInterval, 5*time.Minute)
}

// ActivityFlushIntervalDuration parses ActivityFlushInterval. Returns 1m if unset or invalid.
func (c *Config) ActivityFlushIntervalDuration() time.Duration {
	return parseDuration(c.ActivityFlushInterval, time.Minute)
}

// BeaconTimeoutDuration parses BeaconTimeout. Returns 5s if unset or invalid.
func (c *Config) BeaconTimeoutDuration() time.Duration {
	return parseDuration(c.BeaconTimeout, 5*time.Second)
}

// ReconcileIntervalDuration parses ReconcileInterval. Returns 24h if unset or invalid.
func (c *Config) ReconcileIntervalDuration() time.Duration {
	return parseDuration(c.ReconcileInterval, 24*time.Hour)
}

// CleanupBatchPauseDuration parses CleanupBatchPause. Returns 100ms if unset or invalid.
// A zero pause is allowed.
func (c *Config) CleanupBatchPauseDuration() time.Duration {
	d, err := time.ParseDuration(c.CleanupBatchPause)
	if err != nil || d < 0 {
		return 100 * time.Millisecond
	}
	return d
}

// OperatorTokenTTLDuration parses OperatorTokenTTL. Returns 1h if unset or invalid.
func (c *Config) OperatorTokenTTLDuration() time.Duration {
	return parseDuration(c.OperatorTokenTTL, time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event streaming is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// TrustedProxiesList returns the proxy addresses from TRUSTED_PROXIES, or nil to trust none.
func (c *Config) TrustedProxiesList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
