// Path: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Registry backends understood by the daemon.
const (
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Registry RegistryConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Broker   BrokerConfig
	Producer ProducerConfig
	Log      LogConfig
}

// ServerConfig holds the HTTP transport settings.
type ServerConfig struct {
	Port             string `mapstructure:"port"`
	ChannelBuffer    int    `mapstructure:"channel_buffer"`
	AllowedOrigin    string `mapstructure:"allowed_origin"`
	KeepAliveSeconds int    `mapstructure:"keep_alive_seconds"`
}

// RegistryConfig selects and tunes the shared registry store.
type RegistryConfig struct {
	Backend       string `mapstructure:"backend"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	KeyTTLSeconds int    `mapstructure:"key_ttl_seconds"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	URL              string `mapstructure:"url"`
	RetryAttempts    int    `mapstructure:"retry_attempts"`
	RetryIntervalMs  int    `mapstructure:"retry_interval_ms"`
	ConnectTimeoutMs int    `mapstructure:"connect_timeout_ms"`
	ScanBatchSize    int    `mapstructure:"scan_batch_size"`
}

// DatabaseConfig holds the MongoDB connection settings.
type DatabaseConfig struct {
	URI        string `mapstructure:"uri"`
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
}

// BrokerConfig holds the heartbeat and eviction settings of the broker.
type BrokerConfig struct {
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	StalenessMultiplier int    `mapstructure:"staleness_multiplier"`
	OrphanSweepEvery    int    `mapstructure:"orphan_sweep_every"`
	KeyTTLSeconds       int    `mapstructure:"-"`
	StoreTimeoutMs      int    `mapstructure:"-"`
	KeyPrefix           string `mapstructure:"-"`
}

// ProducerConfig limits the rate of the producer API.
type ProducerConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstLimit        int `mapstructure:"burst_limit"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HeartbeatInterval returns the heartbeat period.
func (c BrokerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// StalenessThreshold is the age of the last heartbeat after which a channel
// is evicted without probing.
func (c BrokerConfig) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessMultiplier) * c.HeartbeatInterval()
}

// KeyTTL returns the lifetime of the registry liveness marker.
func (c BrokerConfig) KeyTTL() time.Duration {
	return time.Duration(c.KeyTTLSeconds) * time.Second
}

// StoreTimeout bounds every single registry call.
func (c BrokerConfig) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMs) * time.Millisecond
}

// DefaultBrokerConfig returns the broker settings used when nothing is configured.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		HeartbeatIntervalMs: 30000,
		StalenessMultiplier: 3,
		OrphanSweepEvery:    10,
		KeyTTLSeconds:       3600,
		StoreTimeoutMs:      2000,
		KeyPrefix:           "sse",
	}
}

// Load loads the configuration from file and environment variables.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	// A missing .env is normal outside of local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)

	// Load from config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err // Only return error if it's not a "file not found" error
		}
	}

	// Load from environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Broker.KeyTTLSeconds = cfg.Registry.KeyTTLSeconds
	cfg.Broker.StoreTimeoutMs = cfg.Registry.TimeoutMs
	cfg.Broker.KeyPrefix = cfg.Registry.KeyPrefix

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	b := DefaultBrokerConfig()

	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.CHANNEL_BUFFER", 32)
	v.SetDefault("SERVER.ALLOWED_ORIGIN", "*")
	v.SetDefault("SERVER.KEEP_ALIVE_SECONDS", 15)
	v.SetDefault("REGISTRY.BACKEND", BackendRedis)
	v.SetDefault("REGISTRY.KEY_PREFIX", b.KeyPrefix)
	v.SetDefault("REGISTRY.KEY_TTL_SECONDS", b.KeyTTLSeconds)
	v.SetDefault("REGISTRY.TIMEOUT_MS", b.StoreTimeoutMs)
	v.SetDefault("REDIS.URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS.RETRY_ATTEMPTS", 3)
	v.SetDefault("REDIS.RETRY_INTERVAL_MS", 5000)
	v.SetDefault("REDIS.CONNECT_TIMEOUT_MS", 30000)
	v.SetDefault("REDIS.SCAN_BATCH_SIZE", 1000)
	v.SetDefault("DATABASE.URI", "mongodb://localhost:27017")
	v.SetDefault("DATABASE.NAME", "push-broker")
	v.SetDefault("DATABASE.COLLECTION", "registry")
	v.SetDefault("BROKER.HEARTBEAT_INTERVAL_MS", b.HeartbeatIntervalMs)
	v.SetDefault("BROKER.STALENESS_MULTIPLIER", b.StalenessMultiplier)
	v.SetDefault("BROKER.ORPHAN_SWEEP_EVERY", b.OrphanSweepEvery)
	v.SetDefault("PRODUCER.REQUESTS_PER_SECOND", 20)
	v.SetDefault("PRODUCER.BURST_LIMIT", 40)
	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.FORMAT", "text")
}

// Validate rejects settings the broker cannot run with.
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendRedis, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown registry backend %q", ErrInvalidConfig, c.Registry.Backend)
	}
	if c.Registry.KeyPrefix == "" {
		return fmt.Errorf("%w: registry.key_prefix must not be empty", ErrInvalidConfig)
	}
	if c.Server.ChannelBuffer <= 0 {
		return fmt.Errorf("%w: server.channel_buffer must be positive", ErrInvalidConfig)
	}
	if c.Producer.RequestsPerSecond <= 0 || c.Producer.BurstLimit <= 0 {
		return fmt.Errorf("%w: producer rate limits must be positive", ErrInvalidConfig)
	}
	return c.Broker.Validate()
}

// Validate rejects non-positive intervals, multipliers and TTLs, and a key
// TTL that would lapse between two heartbeats.
func (c BrokerConfig) Validate() error {
	switch {
	case c.HeartbeatIntervalMs <= 0:
		return fmt.Errorf("%w: broker.heartbeat_interval_ms must be positive", ErrInvalidConfig)
	case c.StalenessMultiplier <= 0:
		return fmt.Errorf("%w: broker.staleness_multiplier must be positive", ErrInvalidConfig)
	case c.OrphanSweepEvery <= 0:
		return fmt.Errorf("%w: broker.orphan_sweep_every must be positive", ErrInvalidConfig)
	case c.KeyTTLSeconds <= 0:
		return fmt.Errorf("%w: registry.key_ttl_seconds must be positive", ErrInvalidConfig)
	case c.StoreTimeoutMs <= 0:
		return fmt.Errorf("%w: registry.timeout_ms must be positive", ErrInvalidConfig)
	case c.KeyTTL() <= c.HeartbeatInterval():
		// Markers refreshed less often than they expire get reaped by peers.
		return fmt.Errorf("%w: registry.key_ttl_seconds must exceed broker.heartbeat_interval_ms", ErrInvalidConfig)
	}
	return nil
}

// ErrInvalidConfig is returned when a loaded setting is out of range.
var ErrInvalidConfig = errors.New("invalid configuration")
