package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, ":9090", cfg.GetGRPCAddr())
	assert.Equal(t, 8, cfg.Scheduler.Capacity)
	assert.Equal(t, "MEDIUM", cfg.Privacy.MaxAcceptedRisk)
	assert.Equal(t, 24*time.Hour, cfg.Review.Period)
	assert.Equal(t, []string{"reviewer-1"}, cfg.Review.Reviewers)
	assert.Equal(t, BackendMemory, cfg.Storage.Audit)
	assert.False(t, cfg.UsesRedis())
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Tracing.Endpoint)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SYNTHFLOW_HTTP_PORT", "8181")
	t.Setenv("SCHEDULER_CAPACITY", "3")
	t.Setenv("REVIEW_REVIEWERS", "alice,bob")
	t.Setenv("STORAGE_JOBS", "redis")
	t.Setenv("TIMEOUT_JOB_EXECUTION", "90s")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8181", cfg.GetHTTPAddr())
	assert.Equal(t, 3, cfg.Scheduler.Capacity)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Review.Reviewers)
	assert.True(t, cfg.UsesRedis())
	assert.Equal(t, 90*time.Second, cfg.Timeouts.JobExecutionTimeout)
	assert.True(t, cfg.Tracing.Enabled)
	assert.InDelta(t, 0.25, cfg.Tracing.SampleRate, 1e-9)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad http port", func(c *Config) { c.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 70000 }, "invalid gRPC port"},
		{"unknown backend", func(c *Config) { c.Storage.Events = "kafka" }, "unsupported events storage backend"},
		{"postgres jobs", func(c *Config) { c.Storage.Jobs = BackendPostgres }, "unsupported jobs storage backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Audit = BackendPostgres }, "postgres DSN is required"},
		{"redis without address", func(c *Config) { c.Storage.Audit = BackendRedis; c.Redis.Addr = "" }, "redis address is required"},
		{"zero capacity", func(c *Config) { c.Scheduler.Capacity = 0 }, "capacity must be at least 1"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Endpoint = "" }, "tracing endpoint is required"},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample rate must be within"},
		{"bad risk", func(c *Config) { c.Privacy.MaxAcceptedRisk = "SEVERE" }, "unknown risk level"},
		{"bad period", func(c *Config) { c.Review.Period = 0 }, "review period"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
