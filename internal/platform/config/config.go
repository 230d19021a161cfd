package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"beacon/pkg/platform/strings"
)

// Telemetry backends understood by TelemetryConfig.Backend.
const (
	TelemetryBackendMemory   = "memory"
	TelemetryBackendPostgres = "postgres"
	TelemetryBackendRedis    = "redis"
)

// Server captures process level configuration. Every field is read from the
// environment so main stays lean.
type Server struct {
	Addr            string        `env:"BEACON_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"BEACON_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Log           LogConfig
	Metrics       MetricsConfig
	Strategy      StrategyConfig
	Notifications NotificationsConfig
	Telemetry     TelemetryConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	Kafka         KafkaConfig
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// MetricsConfig points at the Prometheus-compatible query API.
type MetricsConfig struct {
	QueryAddress    string        `env:"METRICS_QUERY_ADDRESS" envDefault:"http://localhost:9090"`
	QueryTimeout    time.Duration `env:"METRICS_QUERY_TIMEOUT" envDefault:"3s"`
	BreakerFailures int           `env:"METRICS_BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown time.Duration `env:"METRICS_BREAKER_COOLDOWN" envDefault:"30s"`
	LatencyQuery    string        `env:"METRICS_LATENCY_QUERY" envDefault:"avg(rate(rag_request_duration_seconds_sum{domain=\"%[1]s\"}[5m]) / rate(rag_request_duration_seconds_count{domain=\"%[1]s\"}[5m]))"`
	RagRatioQuery   string        `env:"METRICS_RAG_RATIO_QUERY" envDefault:"sum(rate(rag_requests_total{domain=\"%[1]s\",rag=\"true\"}[5m])) / sum(rate(rag_requests_total{domain=\"%[1]s\"}[5m]))"`
}

// StrategyConfig drives the decision loop.
type StrategyConfig struct {
	Domains           []string      `env:"STRATEGY_DOMAINS" envSeparator:"," envDefault:"HR,FAQ,EDUCATION,CHAT"`
	EvaluateInterval  time.Duration `env:"STRATEGY_EVALUATE_INTERVAL" envDefault:"1m"`
	EventLogCapacity  int           `env:"STRATEGY_EVENT_LOG_CAPACITY" envDefault:"500"`
	EnableTestTrigger bool          `env:"STRATEGY_ENABLE_TEST_TRIGGER" envDefault:"false"`
}

// NotificationsConfig tunes the push hub.
type NotificationsConfig struct {
	BroadcastInterval time.Duration `env:"NOTIFY_BROADCAST_INTERVAL" envDefault:"30s"`
	StreamTimeout     time.Duration `env:"NOTIFY_STREAM_TIMEOUT" envDefault:"1h"`
	SendTimeout       time.Duration `env:"NOTIFY_SEND_TIMEOUT" envDefault:"5s"`
}

// TelemetryConfig selects where security telemetry is read from.
type TelemetryConfig struct {
	Backend   string `env:"TELEMETRY_BACKEND" envDefault:"memory"`
	TenantID  string `env:"TELEMETRY_TENANT_ID" envDefault:"default"`
	EventType string `env:"TELEMETRY_EVENT_TYPE" envDefault:"SECURITY"`
	Stream    string `env:"TELEMETRY_REDIS_STREAM" envDefault:"security:telemetry"`
}

// RedisConfig holds connection settings for the Redis telemetry backend.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig holds connection settings for the Postgres telemetry backend.
type PostgresConfig struct {
	DSN             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"2"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// KafkaConfig enables publishing of strategy transitions when Brokers is set.
type KafkaConfig struct {
	Brokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	Topic             string   `env:"KAFKA_STRATEGY_TOPIC" envDefault:"strategy.transitions"`
	Partitions        int32    `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"1"`
	ReplicationFactor int16    `env:"KAFKA_TOPIC_REPLICATION" envDefault:"1"`
}

// Enabled reports whether a Kafka publisher should be wired.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// FromEnv parses and validates the process configuration.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Strategy.Domains = strings.DedupeAndTrimUpper(cfg.Strategy.Domains)
	cfg.Kafka.Brokers = strings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants that env tags cannot express.
func (c Server) Validate() error {
	var errs []error
	if c.Strategy.EvaluateInterval <= 0 {
		errs = append(errs, errors.New("STRATEGY_EVALUATE_INTERVAL must be positive"))
	}
	if c.Notifications.BroadcastInterval <= 0 {
		errs = append(errs, errors.New("NOTIFY_BROADCAST_INTERVAL must be positive"))
	}
	if c.Notifications.StreamTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_STREAM_TIMEOUT must be positive"))
	}
	if c.Metrics.QueryTimeout <= 0 {
		errs = append(errs, errors.New("METRICS_QUERY_TIMEOUT must be positive"))
	}
	if c.Strategy.EventLogCapacity < 100 {
		errs = append(errs, errors.New("STRATEGY_EVENT_LOG_CAPACITY must be at least 100"))
	}
	switch c.Telemetry.Backend {
	case TelemetryBackendMemory:
	case TelemetryBackendPostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres telemetry backend"))
		}
	case TelemetryBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis telemetry backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TELEMETRY_BACKEND %q", c.Telemetry.Backend))
	}
	return errors.Join(errs...)
}
