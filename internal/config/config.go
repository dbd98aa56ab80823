package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// EnvPrefix is the prefix of environment overrides, e.g. ROOMSLOTS_MYSQL_DSN.
const EnvPrefix = "ROOMSLOTS"

// ---- Root ----

type Config struct {
	Log        LogConfig       `mapstructure:"log"`
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	RabbitMQ   RabbitMQConfig  `mapstructure:"rabbitmq"`
	Broker     BrokerConfig    `mapstructure:"broker"`
	Outbox     OutboxConfig    `mapstructure:"outbox"`
	Slots      SlotsConfig     `mapstructure:"slots"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	PlaceInfo  PlaceInfoConfig `mapstructure:"place_info"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
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

type KafkaConfig struct {
	Brokers        []string            `mapstructure:"brokers"`
	GroupID        string              `mapstructure:"group_id"`
	Topics         []string            `mapstructure:"topics"`
	MinBytes       int                 `mapstructure:"min_bytes"`
	MaxBytes       int                 `mapstructure:"max_bytes"`
	CommitInterval int                 `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration       `mapstructure:"write_timeout"`
	Consumer       ConsumerRetryConfig `mapstructure:"consumer"`
}

// ConsumerRetryConfig paces in-process retries of one inbound message.
// Failed attempts beyond AlertAfter are logged at error level.
type ConsumerRetryConfig struct {
	Workers      int           `mapstructure:"workers"`
	AlertAfter   int           `mapstructure:"alert_after"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type BrokerConfig struct {
	Kind string `mapstructure:"kind"` // kafka | rabbitmq
}

type OutboxConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BatchSize  int           `mapstructure:"batch_size"`
	Retention  time.Duration `mapstructure:"retention"`
}

type SlotsConfig struct {
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
	HorizonDays    int           `mapstructure:"horizon_days"`
	RegenerateDays int           `mapstructure:"regenerate_days"`
}

type JobConfig struct {
	Spec    string        `mapstructure:"spec"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type SchedulerConfig struct {
	LockPrefix      string    `mapstructure:"lock_prefix"`
	OutboxDrain     JobConfig `mapstructure:"outbox_drain"`
	ExpirePending   JobConfig `mapstructure:"expire_pending"`
	SlotPregenerate JobConfig `mapstructure:"slot_pregenerate"`
	SlotCleanup     JobConfig `mapstructure:"slot_cleanup"`
	OutboxCleanup   JobConfig `mapstructure:"outbox_cleanup"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type PlaceInfoConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DefaultSlotUnit string        `mapstructure:"default_slot_unit"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies
// env overrides (ROOMSLOTS_*). A .env file in the working directory is loaded
// first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// embedded defaults
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

	// env override (ROOMSLOTS_*)
	v.SetEnvPrefix(EnvPrefix)
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
	switch c.Broker.Kind {
	case "kafka", "rabbitmq":
	default:
		return fmt.Errorf("broker.kind must be kafka or rabbitmq, got %q", c.Broker.Kind)
	}
	if c.Outbox.MaxRetries < 2 {
		return fmt.Errorf("outbox.max_retries must be at least 2, got %d", c.Outbox.MaxRetries)
	}
	if c.Slots.PendingTimeout <= 0 {
		return fmt.Errorf("slots.pending_timeout must be positive")
	}
	if c.Slots.HorizonDays <= 0 || c.Slots.RegenerateDays <= 0 {
		return fmt.Errorf("slots.horizon_days and slots.regenerate_days must be positive")
	}
	return nil
}
