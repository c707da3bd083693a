package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AES      AESConfig      `mapstructure:"aes"`
	Log      LogConfig      `mapstructure:"log"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Saga     SagaConfig     `mapstructure:"saga"`
	Inbound  InboundConfig  `mapstructure:"inbound"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type StorageConfig struct {
	Driver         string        `mapstructure:"driver"` // postgres, memory
	EventRetention time.Duration `mapstructure:"event_retention"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// URL (redis:// or rediss://) takes precedence over the discrete fields.
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type AESConfig struct {
	Key          string   `mapstructure:"key"`           // 64 hex chars, or any passphrase (HKDF-derived)
	PreviousKeys []string `mapstructure:"previous_keys"` // still accepted on decrypt during rotation
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type WebhookConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	Parallelism int           `mapstructure:"parallelism"`
}

type BreakerConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
	Recovery  time.Duration `mapstructure:"recovery"`
}

type SagaConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type InboundConfig struct {
	DedupeTTL         time.Duration `mapstructure:"dedupe_ttl"`
	InboxPollInterval time.Duration `mapstructure:"inbox_poll_interval"`
	InboxBatch        int           `mapstructure:"inbox_batch"`
	InboxMaxAttempts  int           `mapstructure:"inbox_max_attempts"`
	InboxClaimTTL     time.Duration `mapstructure:"inbox_claim_ttl"`
	RateLimit         int64         `mapstructure:"rate_limit"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: ORC_.
// Nested keys use underscore: ORC_DATABASE_HOST, ORC_BREAKER_THRESHOLD, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("storage.event_retention", "72h")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "orchestrator")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "bizsuite-orchestrator")
	v.SetDefault("aes.key", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 1024)
	v.SetDefault("webhook.parallelism", 8)
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.recovery", "60s")
	v.SetDefault("saga.sweep_interval", "5s")
	v.SetDefault("saga.default_timeout", "24h")
	v.SetDefault("inbound.dedupe_ttl", "24h")
	v.SetDefault("inbound.inbox_poll_interval", "1s")
	v.SetDefault("inbound.inbox_batch", 50)
	v.SetDefault("inbound.inbox_max_attempts", 5)
	v.SetDefault("inbound.inbox_claim_ttl", "30s")
	v.SetDefault("inbound.rate_limit", 300)
	v.SetDefault("inbound.rate_window", "1m")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: ORC_DATABASE_HOST -> database.host
	v.SetEnvPrefix("ORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Storage.Driver != StorageDriverPostgres && cfg.Storage.Driver != StorageDriverMemory {
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return &cfg, nil
}

// ProviderSecret returns the inbound webhook secret for a provider from
// WEBHOOK_SECRET_<PROVIDER_UPPER>. An empty result means no verification.
func ProviderSecret(provider string) string {
	key := "WEBHOOK_SECRET_" + strings.ToUpper(strings.ReplaceAll(provider, "-", "_"))
	return strings.TrimSpace(os.Getenv(key))
}
