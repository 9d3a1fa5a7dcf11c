package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Subscriber  SubscriberConfig  `mapstructure:"subscriber"`
	Registry    RegistryConfig    `mapstructure:"registry"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Callback    CallbackConfig    `mapstructure:"callback"`
	Processing  ProcessingConfig  `mapstructure:"processing"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// SubscriberConfig identifies this participant on the network. The signing
// private key is the base64-encoded raw ed25519 key registered against UKID.
type SubscriberConfig struct {
	ID                string `mapstructure:"id"`
	UKID              string `mapstructure:"uk_id"`
	Type              string `mapstructure:"type"`
	Domain            string `mapstructure:"domain"`
	Country           string `mapstructure:"country"`
	City              string `mapstructure:"city"`
	SigningPrivateKey string `mapstructure:"signing_private_key"`
}

type RegistryConfig struct {
	URL           string        `mapstructure:"url"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type IdempotencyConfig struct {
	Backend       string        `mapstructure:"backend"` // "memory" or "redis"
	TTL           time.Duration `mapstructure:"ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisURL      string        `mapstructure:"redis_url"`
	// Actions whose failed processing result is cached as well, so a
	// retransmission replays the failure instead of reprocessing.
	CacheFailureActions []string `mapstructure:"cache_failure_actions"`
}

type CallbackConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Emit separate Digest and Signature headers alongside Authorization
	// for consumers that require them.
	DuplicateSignatureHeaders bool `mapstructure:"duplicate_signature_headers"`
}

type ProcessingConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("subscriber.type", "BPP")
	v.SetDefault("subscriber.domain", "ONDC:RET10")
	v.SetDefault("subscriber.country", "IND")
	v.SetDefault("subscriber.city", "std:080")
	v.SetDefault("registry.url", "https://preprod.registry.ondc.org/ondc")
	v.SetDefault("registry.lookup_timeout", "5s")
	v.SetDefault("registry.cache_ttl", "1h")
	v.SetDefault("registry.sweep_interval", "10m")
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "30m")
	v.SetDefault("idempotency.sweep_interval", "1m")
	v.SetDefault("idempotency.redis_url", "redis://localhost:6379/0")
	v.SetDefault("callback.max_attempts", 3)
	v.SetDefault("callback.base_delay", "5s")
	v.SetDefault("callback.timeout", "30s")
	v.SetDefault("callback.duplicate_signature_headers", false)
	v.SetDefault("processing.workers", 8)
	v.SetDefault("processing.queue_size", 1024)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/beckn-gateway")
	}

	// Environment variables override
	v.SetEnvPrefix("GATEWAY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
