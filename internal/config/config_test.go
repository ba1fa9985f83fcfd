package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("embedded defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, 300, cfg.Cache.TTLSeconds)
		assert.Equal(t, 10*time.Second, cfg.Delivery.Timeout())
		assert.Equal(t, 7, cfg.Delivery.MaxRetries)
		assert.Equal(t, 10*time.Second, cfg.Delivery.BaseRetryDelay())
		assert.Equal(t, 72*time.Hour, cfg.Retention.Window())
		assert.Equal(t, "redis", cfg.Queue.Driver)
		assert.Equal(t, "subscription:", cfg.Cache.KeyPrefix)
		assert.Equal(t, 2*time.Minute, cfg.Queue.VisibilityTimeout)
		assert.False(t, cfg.ClickHouse.Enabled)
		assert.NotEmpty(t, cfg.ClickHouse.DSN)
	})

	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Delivery.MaxRetries)
	})

	t.Run("user file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("delivery:\n  max_retries: 3\ncache:\n  driver: memory\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Delivery.MaxRetries)
		assert.Equal(t, "memory", cfg.Cache.Driver)
		assert.Equal(t, 300, cfg.Cache.TTLSeconds)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("WHD_DELIVERY_BASE_RETRY_DELAY_SECONDS", "2")
		t.Setenv("WHD_RETENTION_LOG_RETENTION_HOURS", "24")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Delivery.BaseRetryDelay())
		assert.Equal(t, 24*time.Hour, cfg.Retention.Window())
	})

	t.Run("invalid value is rejected", func(t *testing.T) {
		t.Setenv("WHD_DELIVERY_MAX_RETRIES", "0")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_retries")
	})
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Delivery.TimeoutSeconds = 0 }, "timeout_seconds"},
		{"negative cap", func(c *Config) { c.Delivery.MaxRetryDelaySeconds = -1 }, "max_retry_delay_seconds"},
		{"zero ttl", func(c *Config) { c.Cache.TTLSeconds = 0 }, "ttl_seconds"},
		{"negative negative ttl", func(c *Config) { c.Cache.NegativeTTLSeconds = -1 }, "negative_ttl_seconds"},
		{"unknown queue", func(c *Config) { c.Queue.Driver = "sqs" }, "queue.driver"},
		{"unknown cache", func(c *Config) { c.Cache.Driver = "memcached" }, "cache.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("zero negative ttl disables negative caching", func(t *testing.T) {
		cfg := base
		cfg.Cache.NegativeTTLSeconds = 0
		assert.NoError(t, cfg.Validate())
		assert.Zero(t, cfg.Cache.NegativeTTL())
	})
}
