package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// KafkaConfig points at the CDC topic that mirrors inserts into the events table.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
}

type DispatcherConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type DeliveryConfig struct {
	WorkerCount    int             `mapstructure:"worker_count"`
	BatchSize      int             `mapstructure:"batch_size"`
	PollInterval   time.Duration   `mapstructure:"poll_interval"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	LeaseTimeout   time.Duration   `mapstructure:"lease_timeout"`
	MaxAttempts    int             `mapstructure:"max_attempts"`
	Backoff        []time.Duration `mapstructure:"backoff"`
	UserAgent      string          `mapstructure:"user_agent"`
	Breaker        BreakerConfig   `mapstructure:"breaker"`
}

// BreakerConfig enables the per-target circuit breaker when FailThreshold > 0.
type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type SweepConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type RetentionConfig struct {
	Deliveries time.Duration `mapstructure:"deliveries"`
	Events     time.Duration `mapstructure:"events"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// RateLimitConfig.RPS is the fallback for tenants without their own rate_limit_rps.
type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (WHGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// WHGW_MYSQL_DSN -> mysql.dsn
	v.SetEnvPrefix("WHGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be positive, got %d", c.Delivery.MaxAttempts)
	}
	for i, d := range c.Delivery.Backoff {
		if d <= 0 {
			return fmt.Errorf("delivery.backoff[%d] must be positive, got %s", i, d)
		}
	}
	if c.Delivery.LeaseTimeout > 0 && c.Delivery.LeaseTimeout <= c.Delivery.RequestTimeout {
		return fmt.Errorf("delivery.lease_timeout (%s) must exceed delivery.request_timeout (%s)",
			c.Delivery.LeaseTimeout, c.Delivery.RequestTimeout)
	}
	return nil
}
