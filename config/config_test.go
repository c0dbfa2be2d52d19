package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 1000, cfg.MaxConnections)
	assert.Equal(t, 0.0, cfg.MinProfitPercent)
	assert.Equal(t, 60*time.Second, cfg.OpportunityTTL)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("MIN_PROFIT_PERCENT", "0.25")
	t.Setenv("OPPORTUNITY_TTL", "15")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("BINGX_API_KEY", "k-123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 0.25, cfg.MinProfitPercent)
	assert.Equal(t, 15*time.Second, cfg.OpportunityTTL)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, "k-123", cfg.APIKeys["bingx"])
	_, ok := cfg.APIKeys["wallex"]
	assert.False(t, ok)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric worker count", "WORKER_COUNT", "many"},
		{"zero worker count", "WORKER_COUNT", "0"},
		{"negative min profit", "MIN_PROFIT_PERCENT", "-1"},
		{"non-numeric min profit", "MIN_PROFIT_PERCENT", "low"},
		{"zero ttl", "OPPORTUNITY_TTL", "0"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config:")
		})
	}
}
