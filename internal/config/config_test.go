package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendRedis, cfg.Registry.Backend)
	assert.Equal(t, 30*time.Second, cfg.Broker.HeartbeatInterval())
	assert.Equal(t, 90*time.Second, cfg.Broker.StalenessThreshold())
	assert.Equal(t, time.Hour, cfg.Broker.KeyTTL())
	assert.Equal(t, 2*time.Second, cfg.Broker.StoreTimeout())
	assert.Equal(t, "sse", cfg.Broker.KeyPrefix)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BROKER_HEARTBEAT_INTERVAL_MS", "1000")
	t.Setenv("REGISTRY_BACKEND", "memory")
	t.Setenv("REGISTRY_KEY_TTL_SECONDS", "60")

	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Broker.HeartbeatInterval())
	assert.Equal(t, 3*time.Second, cfg.Broker.StalenessThreshold())
	assert.Equal(t, BackendMemory, cfg.Registry.Backend)
	assert.Equal(t, time.Minute, cfg.Broker.KeyTTL())
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("REGISTRY_BACKEND", "etcd")

	_, err := load(viper.New())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBrokerConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*BrokerConfig)
	}{
		{"zero interval", func(c *BrokerConfig) { c.HeartbeatIntervalMs = 0 }},
		{"zero multiplier", func(c *BrokerConfig) { c.StalenessMultiplier = 0 }},
		{"zero sweep", func(c *BrokerConfig) { c.OrphanSweepEvery = 0 }},
		{"zero ttl", func(c *BrokerConfig) { c.KeyTTLSeconds = 0 }},
		{"zero timeout", func(c *BrokerConfig) { c.StoreTimeoutMs = 0 }},
		{"ttl equal to interval", func(c *BrokerConfig) {
			c.HeartbeatIntervalMs = 30000
			c.KeyTTLSeconds = 30
		}},
		{"ttl shorter than interval", func(c *BrokerConfig) {
			c.HeartbeatIntervalMs = 120000
			c.KeyTTLSeconds = 60
		}},
	}

	require.NoError(t, DefaultBrokerConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultBrokerConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
