package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// StoreConfig selects the workflow instance backend
type StoreConfig struct {
	Instances string `mapstructure:"instances"` // sqlite or redis
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	AppID      string        `mapstructure:"app_id"`
	AppSecret  string        `mapstructure:"app_secret"`
	BaseURL    string        `mapstructure:"base_url"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Breaker     BreakerConfig `mapstructure:"breaker"`
}

// PaymentConfig holds payment processor configuration
type PaymentConfig struct {
	Mode           string        `mapstructure:"mode"` // simulated or http
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	SimulatedLimit float64       `mapstructure:"simulated_limit"`
	Breaker        BreakerConfig `mapstructure:"breaker"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	DefaultReminderHours float64 `mapstructure:"default_reminder_hours"`
	SystemActor          string  `mapstructure:"system_actor"`
	ExportTimezone       string  `mapstructure:"export_timezone"`
}

// WorkersConfig holds background worker configuration
type WorkersConfig struct {
	TimerRecoverySchedule string `mapstructure:"timer_recovery_schedule"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RuntimeCollectors bool `mapstructure:"runtime_collectors"`
}

// Load loads configuration from an optional .env file, the YAML file at
// configPath and environment variables, in increasing precedence. An empty
// configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults; one connection keeps SQLite writes serialized
	v.SetDefault("database.path", "data/approval.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("store.instances", "sqlite")

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "approval:")

	// Lark defaults
	v.SetDefault("lark.enabled", false)
	v.SetDefault("lark.api_timeout", 30*time.Second)
	v.SetDefault("lark.send_timeout", 10*time.Second)
	v.SetDefault("lark.breaker.timeout", 30*time.Second)
	v.SetDefault("lark.breaker.consecutive_failures", 5)

	// Payment defaults
	v.SetDefault("payment.mode", "simulated")
	v.SetDefault("payment.timeout", 30*time.Second)
	v.SetDefault("payment.breaker.timeout", 60*time.Second)
	v.SetDefault("payment.breaker.consecutive_failures", 3)

	// Engine defaults
	v.SetDefault("engine.default_reminder_hours", 24)
	v.SetDefault("engine.system_actor", "system")
	v.SetDefault("engine.export_timezone", "UTC")

	v.SetDefault("workers.timer_recovery_schedule", "@every 5m")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.runtime_collectors", true)
}

// bindEnvVars binds environment variables to configuration. Every key can be
// set as APPROVAL_<SECTION>_<KEY>; credentials also accept their usual names.
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix("APPROVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Sensitive credentials from environment
	v.BindEnv("lark.app_id", "APPROVAL_LARK_APP_ID", "LARK_APP_ID")
	v.BindEnv("lark.app_secret", "APPROVAL_LARK_APP_SECRET", "LARK_APP_SECRET")
	v.BindEnv("payment.api_key", "APPROVAL_PAYMENT_API_KEY", "PAYMENT_API_KEY")
	v.BindEnv("redis.password", "APPROVAL_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("redis.addr", "APPROVAL_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("payment.url", "APPROVAL_PAYMENT_URL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Store.Instances {
	case "sqlite":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when store.instances is redis")
		}
	default:
		return fmt.Errorf("store.instances must be sqlite or redis, got %q", c.Store.Instances)
	}

	// Validate Lark credentials
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	switch c.Payment.Mode {
	case "simulated":
	case "http":
		if c.Payment.URL == "" {
			return fmt.Errorf("payment.url is required in http mode")
		}
	default:
		return fmt.Errorf("payment.mode must be simulated or http, got %q", c.Payment.Mode)
	}

	if c.Engine.DefaultReminderHours < 0 {
		return fmt.Errorf("engine.default_reminder_hours cannot be negative")
	}

	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console, got %q", c.Logger.Format)
	}

	return nil
}

// fileExists reports whether path names an existing regular file
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolvePath returns the first existing file among the candidates, or an
// empty string when none exists
func ResolvePath(candidates ...string) string {
	for _, p := range candidates {
		if p != "" && fileExists(p) {
			return p
		}
	}
	return ""
}
