package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	pkgstrings "idcheck/pkg/platform/strings"
)

// Session storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the process configuration.
type Config struct {
	Server   Server
	Session  Session
	Redis    RedisConfig
	Database DatabaseConfig
	Audit    AuditConfig
	Worker   WorkerConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string `env:"IDCHECK_ADDR" envDefault:":8080"`
	LogLevel string `env:"IDCHECK_LOG_LEVEL" envDefault:"info"`
}

// Session selects the session store and the lifetime of new sessions.
type Session struct {
	Backend string        `env:"IDCHECK_SESSION_BACKEND" envDefault:"memory"`
	TTL     time.Duration `env:"IDCHECK_SESSION_TTL" envDefault:"12h"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// DatabaseConfig configures the PostgreSQL session backend.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// AuditConfig selects where audit events go. Without brokers they stay in
// memory.
type AuditConfig struct {
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"idcheck.audit"`
}

// WorkerConfig configures the session command consumer. It shares the audit
// brokers and runs only when they are set.
type WorkerConfig struct {
	CommandTopic  string        `env:"KAFKA_SESSION_COMMANDS_TOPIC" envDefault:"idcheck.session-commands"`
	ConsumerGroup string        `env:"KAFKA_CONSUMER_GROUP" envDefault:"idcheck-session-worker"`
	RetryDelay    time.Duration `env:"IDCHECK_WORKER_RETRY_DELAY" envDefault:"1s"`
}

// KafkaEnabled reports whether audit events and session commands go through
// Kafka.
func (c Config) KafkaEnabled() bool {
	return len(c.Audit.KafkaBrokers) > 0
}

// FromEnv loads an optional .env file, then parses the environment into a
// validated Config so main stays lean. Variables already set win over the
// file.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the environment without touching .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Audit.KafkaBrokers = pkgstrings.DedupeAndTrim(cfg.Audit.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Session.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s session backend", BackendRedis)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s session backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}
	return nil
}
