// Package config loads syncd settings from defaults, an optional YAML file and SYNCD_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYNCD"

type Config struct {
	AppEnv       string             `mapstructure:"app_env"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Thresholds   ThresholdConfig    `mapstructure:"thresholds"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
	Drain        DrainConfig        `mapstructure:"drain"`
	Mutation     MutationConfig     `mapstructure:"mutation"`
	Reconcile    ReconcileConfig    `mapstructure:"reconcile"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DatabaseConfig struct {
	// DSN is a sqlite file path or a postgres:// URL.
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Stream       string        `mapstructure:"stream"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	LockKey      string        `mapstructure:"lock_key"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
}

type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type ThresholdConfig struct {
	Time           time.Duration `mapstructure:"time"`
	DistanceMeters float64       `mapstructure:"distance_meters"`
	AccuracyMeters float64       `mapstructure:"accuracy_meters"`
}

type RateLimitConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxPerHour  int           `mapstructure:"max_per_hour"`
}

type DrainConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	InitialJitter   time.Duration `mapstructure:"initial_jitter"`
	LoopDelay       time.Duration `mapstructure:"loop_delay"`
	MaxLoopFailures int           `mapstructure:"max_loop_failures"`
	FailureCeiling  int           `mapstructure:"failure_ceiling"`
	BatchSize       int           `mapstructure:"batch_size"`
	ClaimTimeout    time.Duration `mapstructure:"claim_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxRateWait     time.Duration `mapstructure:"max_rate_wait"`
}

type MutationConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
	MaxPerHour     int           `mapstructure:"max_per_hour"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FailureCeiling int           `mapstructure:"failure_ceiling"`
	MaxRateWait    time.Duration `mapstructure:"max_rate_wait"`
}

type ReconcileConfig struct {
	Lookback        time.Duration `mapstructure:"lookback"`
	ReferenceMaxAge time.Duration `mapstructure:"reference_max_age"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

type RetentionConfig struct {
	SyncedAfter time.Duration `mapstructure:"synced_after"`
	Interval    time.Duration `mapstructure:"interval"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type HTTPConfig struct {
	Addr              string   `mapstructure:"addr"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
}

type ConnectivityConfig struct {
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	AssumeOnline  bool          `mapstructure:"assume_online"`
}

// SetDefaults registers every key so that env overrides work without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("database.dsn", "syncd.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "syncd:notifications")
	v.SetDefault("redis.stream_max_len", 10000)
	v.SetDefault("redis.lock_key", "syncd:claim-lock")
	v.SetDefault("redis.lock_ttl", "10s")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.api_key", "")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.max_retries", 2)

	v.SetDefault("thresholds.time", "5m")
	v.SetDefault("thresholds.distance_meters", 100.0)
	v.SetDefault("thresholds.accuracy_meters", 100.0)

	v.SetDefault("ratelimit.min_interval", "5s")
	v.SetDefault("ratelimit.max_per_hour", 500)

	v.SetDefault("drain.interval", "1m")
	v.SetDefault("drain.initial_jitter", "15s")
	v.SetDefault("drain.loop_delay", "250ms")
	v.SetDefault("drain.max_loop_failures", 3)
	v.SetDefault("drain.failure_ceiling", 5)
	v.SetDefault("drain.batch_size", 5)
	v.SetDefault("drain.claim_timeout", "5s")
	v.SetDefault("drain.request_timeout", "45s")
	v.SetDefault("drain.max_rate_wait", "10s")

	v.SetDefault("mutation.interval", "2m")
	v.SetDefault("mutation.min_interval", "15s")
	v.SetDefault("mutation.max_per_hour", 120)
	v.SetDefault("mutation.request_timeout", "30s")
	v.SetDefault("mutation.failure_ceiling", 5)
	v.SetDefault("mutation.max_rate_wait", "30s")

	v.SetDefault("reconcile.lookback", "72h")
	v.SetDefault("reconcile.reference_max_age", "24h")
	v.SetDefault("reconcile.cache_ttl", "10m")

	v.SetDefault("retention.synced_after", "168h")
	v.SetDefault("retention.interval", "6h")

	v.SetDefault("monitor.interval", "5m")

	v.SetDefault("http.addr", "127.0.0.1:8787")
	v.SetDefault("http.cors_origins", []string{"http://localhost:*", "http://127.0.0.1:*"})
	v.SetDefault("http.requests_per_second", 5.0)
	v.SetDefault("http.burst", 20)

	v.SetDefault("connectivity.probe_url", "")
	v.SetDefault("connectivity.probe_interval", "30s")
	v.SetDefault("connectivity.assume_online", true)
}

// NewViper builds a viper instance with defaults, the optional file and env binding.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Decode unmarshals and validates the current viper state.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewViper followed by Decode.
func Load(path string) (*Config, *viper.Viper, error) {
	v, err := NewViper(path)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Drain.FailureCeiling < 1 {
		errs = append(errs, errors.New("drain.failure_ceiling must be at least 1"))
	}
	if c.Drain.BatchSize < 1 {
		errs = append(errs, errors.New("drain.batch_size must be at least 1"))
	}
	if c.RateLimit.MaxPerHour < 0 {
		errs = append(errs, errors.New("ratelimit.max_per_hour must not be negative"))
	}
	if c.Thresholds.Time < 0 || c.Thresholds.DistanceMeters < 0 {
		errs = append(errs, errors.New("thresholds must not be negative"))
	}
	if c.Mutation.MaxRateWait < c.Mutation.MinInterval {
		errs = append(errs, fmt.Errorf("mutation.max_rate_wait (%s) must be at least mutation.min_interval (%s)",
			c.Mutation.MaxRateWait, c.Mutation.MinInterval))
	}
	if c.Retention.SyncedAfter > 0 && c.Retention.SyncedAfter <= c.Reconcile.Lookback {
		errs = append(errs, fmt.Errorf("retention.synced_after (%s) must exceed reconcile.lookback (%s)",
			c.Retention.SyncedAfter, c.Reconcile.Lookback))
	}
	return errors.Join(errs...)
}

// RemoteConfigured reports whether the remote endpoint has enough settings to be used.
func (c *Config) RemoteConfigured() bool {
	return c.Remote.BaseURL != "" && c.Remote.APIKey != ""
}

// IsPostgres reports whether the DSN points at postgres instead of a sqlite file.
func (c DatabaseConfig) IsPostgres() bool {
	return strings.HasPrefix(c.DSN, "postgres://") || strings.HasPrefix(c.DSN, "postgresql://")
}
