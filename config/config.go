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

// EnvPrefix namespaces environment overrides, e.g. WEBHOOK_POSTGRES_DSN
const EnvPrefix = "WEBHOOK"

// MinLockTTL is the longest per-attempt timeout (120s) plus room for the
// bookkeeping done while the delivery lock is held
const MinLockTTL = 150 * time.Second

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Export    ExportConfig    `mapstructure:"export"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	JSON    bool   `mapstructure:"json"`
	Concise bool   `mapstructure:"concise"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type DeliveryConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	BatchSize        int     `mapstructure:"batch_size"`
	JitterFraction   float64 `mapstructure:"jitter_fraction"`
	UserAgent        string  `mapstructure:"user_agent"`
	MaxResponseBytes int     `mapstructure:"max_response_bytes"`

	// Policy defaults for endpoints registered without explicit values
	Strategy         string `mapstructure:"strategy"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BaseDelaySeconds int    `mapstructure:"base_delay_seconds"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

type SchedulerConfig struct {
	Embedded      bool   `mapstructure:"embedded"`
	Spec          string `mapstructure:"spec"`
	HeartbeatSpec string `mapstructure:"heartbeat_spec"`
}

type MonitorConfig struct {
	HealthyThreshold  float64       `mapstructure:"healthy_threshold"`
	DegradedThreshold float64       `mapstructure:"degraded_threshold"`
	Window            time.Duration `mapstructure:"window"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheSize         int           `mapstructure:"cache_size"`
}

type ExportConfig struct {
	Dir            string `mapstructure:"dir"`
	S3Bucket       string `mapstructure:"s3_bucket"`
	S3Region       string `mapstructure:"s3_region"`
	S3Endpoint     string `mapstructure:"s3_endpoint"`
	S3Prefix       string `mapstructure:"s3_prefix"`
	S3AccessKey    string `mapstructure:"s3_access_key"`
	S3SecretKey    string `mapstructure:"s3_secret_key"`
	S3UsePathStyle bool   `mapstructure:"s3_use_path_style"`
}

type SeedConfig struct {
	File string `mapstructure:"file"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (WEBHOOK_*).
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, fmt.Errorf("reading defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config data: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when storage.driver is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.Delivery.Concurrency < 1 {
		return fmt.Errorf("delivery.concurrency must be at least 1")
	}
	if c.Delivery.BatchSize < 1 {
		return fmt.Errorf("delivery.batch_size must be at least 1")
	}
	if c.Delivery.JitterFraction < 0 || c.Delivery.JitterFraction > 1 {
		return fmt.Errorf("delivery.jitter_fraction must be between 0 and 1")
	}
	if c.Redis.Enabled && c.Redis.LockTTL < MinLockTTL {
		return fmt.Errorf("redis.lock_ttl must be at least %s, got %s", MinLockTTL, c.Redis.LockTTL)
	}
	return nil
}
