package config

import (
	"fmt"
	"time"

	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/caarlos0/env/v10"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the synthflow server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"SYNTHFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"SYNTHFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Redis configuration
	Redis RedisConfig

	// Postgres configuration
	Postgres PostgresConfig

	// Storage backends
	Storage StorageConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Privacy gate
	Privacy PrivacyConfig

	// Human review queue
	Review ReviewConfig

	// Timeouts
	Timeouts TimeoutConfig

	// Tracing export
	Tracing TracingConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Stream and key retention
	EventStreamMaxLen int64         `env:"REDIS_EVENT_STREAM_MAXLEN" envDefault:"10000"`
	JobTTL            time.Duration `env:"REDIS_JOB_TTL" envDefault:"168h"`
}

// PostgresConfig holds the audit database connection
type PostgresConfig struct {
	DSN      string `env:"POSTGRES_DSN"`
	MaxConns int32  `env:"POSTGRES_MAX_CONNS" envDefault:"10"`
}

// StorageConfig selects the adapter of each store
type StorageConfig struct {
	Jobs   string `env:"STORAGE_JOBS" envDefault:"memory"`
	Audit  string `env:"STORAGE_AUDIT" envDefault:"memory"`
	Events string `env:"STORAGE_EVENTS" envDefault:"memory"`
}

// SchedulerConfig holds concurrency configuration
type SchedulerConfig struct {
	Capacity            int           `env:"SCHEDULER_CAPACITY" envDefault:"8"`
	HealthCheckInterval time.Duration `env:"SCHEDULER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
	SnapshotInterval    time.Duration `env:"SCHEDULER_SNAPSHOT_INTERVAL" envDefault:"5s"`
}

// PrivacyConfig holds the privacy gate threshold
type PrivacyConfig struct {
	MaxAcceptedRisk string `env:"PRIVACY_MAX_ACCEPTED_RISK" envDefault:"MEDIUM"`
}

// ReviewConfig holds the review SLA settings. Non-positive caps disable
// the cap.
type ReviewConfig struct {
	MaxPending   int           `env:"REVIEW_MAX_PENDING" envDefault:"20"`
	MaxPerPeriod int           `env:"REVIEW_MAX_PER_PERIOD" envDefault:"100"`
	Period       time.Duration `env:"REVIEW_PERIOD" envDefault:"24h"`
	Reviewers    []string      `env:"REVIEW_REVIEWERS" envDefault:"reviewer-1" envSeparator:","`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	JobExecutionTimeout time.Duration `env:"TIMEOUT_JOB_EXECUTION" envDefault:"3600s"` // 1 hour
	ShutdownTimeout     time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// TracingConfig holds the OTLP span export settings. With tracing
// disabled spans are created but never exported.
type TracingConfig struct {
	Enabled     bool    `env:"TRACING_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4318"`
	Insecure    bool    `env:"TRACING_INSECURE" envDefault:"true"`
	SampleRate  float64 `env:"TRACING_SAMPLE_RATE" envDefault:"1"`
	ServiceName string  `env:"TRACING_SERVICE_NAME" envDefault:"synthflow"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	// Validate storage backends
	backends := map[string][]string{
		"jobs":   {BackendMemory, BackendRedis},
		"audit":  {BackendMemory, BackendRedis, BackendPostgres},
		"events": {BackendMemory, BackendRedis},
	}
	selected := map[string]string{"jobs": c.Storage.Jobs, "audit": c.Storage.Audit, "events": c.Storage.Events}
	for store, backend := range selected {
		if !contains(backends[store], backend) {
			return fmt.Errorf("unsupported %s storage backend: %s", store, backend)
		}
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.Storage.Audit == BackendPostgres && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres DSN is required for the postgres audit store")
	}

	// Validate scheduler config
	if c.Scheduler.Capacity < 1 {
		return fmt.Errorf("scheduler capacity must be at least 1")
	}

	if _, err := privacy.ParseRiskLevel(c.Privacy.MaxAcceptedRisk); err != nil {
		return err
	}

	if c.Review.Period <= 0 {
		return fmt.Errorf("review period must be positive")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample rate must be within [0, 1]: %v", c.Tracing.SampleRate)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any store is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c.Storage.Jobs == BackendRedis || c.Storage.Audit == BackendRedis || c.Storage.Events == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
