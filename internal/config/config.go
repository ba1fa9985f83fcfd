package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const envPrefix = "WHD"

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr         string `mapstructure:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type ClickHouseConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	DatabaseConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// QueueConfig selects the delivery queue driver. Delayed retries always go
// through the Redis schedule set, whichever driver carries ready jobs.
type QueueConfig struct {
	Driver            string        `mapstructure:"driver"` // redis | kafka
	Stream            string        `mapstructure:"stream"`
	Group             string        `mapstructure:"group"`
	ScheduledKey      string        `mapstructure:"scheduled_key"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BlockTimeout      time.Duration `mapstructure:"block_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	PromoteBatch      int           `mapstructure:"promote_batch"`
}

type CacheConfig struct {
	Driver             string `mapstructure:"driver"` // redis | memory
	KeyPrefix          string `mapstructure:"key_prefix"`
	TTLSeconds         int    `mapstructure:"ttl_seconds"`
	NegativeTTLSeconds int    `mapstructure:"negative_ttl_seconds"`
}

func (c CacheConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }

func (c CacheConfig) NegativeTTL() time.Duration {
	return time.Duration(c.NegativeTTLSeconds) * time.Second
}

type DeliveryConfig struct {
	TimeoutSeconds         int    `mapstructure:"timeout_seconds"`
	MaxRetries             int    `mapstructure:"max_retries"`
	BaseRetryDelaySeconds  int    `mapstructure:"base_retry_delay_seconds"`
	MaxRetryDelaySeconds   int    `mapstructure:"max_retry_delay_seconds"` // 0 = uncapped
	WorkerCount            int    `mapstructure:"worker_count"`
	InfraRetryDelaySeconds int    `mapstructure:"infra_retry_delay_seconds"`
	UserAgent              string `mapstructure:"user_agent"`
}

func (d DeliveryConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d DeliveryConfig) BaseRetryDelay() time.Duration {
	return time.Duration(d.BaseRetryDelaySeconds) * time.Second
}

func (d DeliveryConfig) MaxRetryDelay() time.Duration {
	return time.Duration(d.MaxRetryDelaySeconds) * time.Second
}

func (d DeliveryConfig) InfraRetryDelay() time.Duration {
	return time.Duration(d.InfraRetryDelaySeconds) * time.Second
}

type RetentionConfig struct {
	LogRetentionHours   int           `mapstructure:"log_retention_hours"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	BatchSize           int           `mapstructure:"batch_size"`
	ArchiveToClickHouse bool          `mapstructure:"archive_to_clickhouse"`
}

func (r RetentionConfig) Window() time.Duration {
	return time.Duration(r.LogRetentionHours) * time.Hour
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"` // per subscription, 0 disables
}

type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load reads embedded defaults, merges user YAML (if it exists), and applies
// env overrides (WHD_*, nested keys joined with "_").
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("read defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the delivery pipeline cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Delivery.TimeoutSeconds <= 0:
		return fmt.Errorf("delivery.timeout_seconds must be positive")
	case c.Delivery.MaxRetries <= 0:
		return fmt.Errorf("delivery.max_retries must be positive")
	case c.Delivery.BaseRetryDelaySeconds <= 0:
		return fmt.Errorf("delivery.base_retry_delay_seconds must be positive")
	case c.Delivery.MaxRetryDelaySeconds < 0:
		return fmt.Errorf("delivery.max_retry_delay_seconds must not be negative")
	case c.Cache.TTLSeconds <= 0:
		return fmt.Errorf("cache.ttl_seconds must be positive")
	case c.Cache.NegativeTTLSeconds < 0:
		return fmt.Errorf("cache.negative_ttl_seconds must not be negative")
	case c.Retention.LogRetentionHours <= 0:
		return fmt.Errorf("retention.log_retention_hours must be positive")
	}

	switch c.Queue.Driver {
	case "redis", "kafka":
	default:
		return fmt.Errorf("unknown queue.driver %q", c.Queue.Driver)
	}
	switch c.Cache.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown cache.driver %q", c.Cache.Driver)
	}
	return nil
}
