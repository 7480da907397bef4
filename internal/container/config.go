// Package container provides dependency injection and lifecycle management
// for the payment approval engine following Clean Architecture principles.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/payment-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/payment-approval/internal/infrastructure/external/payment"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/redis"
	"github.com/garyjia/payment-approval/internal/infrastructure/resilience"
	"github.com/garyjia/payment-approval/internal/infrastructure/worker"
	httpapi "github.com/garyjia/payment-approval/internal/interfaces/http"
)

// Instance store backends
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Payment processor modes
const (
	PaymentSimulated = "simulated"
	PaymentHTTP      = "http"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Store selects where workflow instances live
	Store StoreConfig

	// Redis connection, used when Store.Instances is redis
	Redis redis.Options

	// Lark notification configuration
	Lark LarkConfig

	// Payment processor configuration
	Payment PaymentConfig

	// Engine tuning
	Engine EngineConfig

	// Server configuration
	Server httpapi.ServerConfig

	// Worker configuration
	Worker WorkerConfig

	// Metrics configuration
	Metrics MetricsConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long SQLite waits on a locked database
	BusyTimeout time.Duration

	// MigrationsDir overrides the embedded migrations when set
	MigrationsDir string
}

// StoreConfig selects storage backends.
type StoreConfig struct {
	// Instances is sqlite or redis
	Instances string
}

// LarkConfig holds Lark notification settings.
type LarkConfig struct {
	// Enabled sends notifications through Lark; otherwise they are only logged
	Enabled bool

	Client  lark.Config
	Breaker resilience.BreakerConfig

	// SendTimeout bounds one notification send; zero leaves it unbounded
	SendTimeout time.Duration
}

// PaymentConfig holds payment processor settings.
type PaymentConfig struct {
	// Mode is simulated or http
	Mode string

	// Gateway is used in http mode
	Gateway payment.Config

	// SimulatedLimit declines simulated payments above this amount; 0 accepts all
	SimulatedLimit float64

	Breaker resilience.BreakerConfig
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	// DefaultReminderInterval applies to approval nodes without a timeout
	DefaultReminderInterval time.Duration

	// SystemActor is recorded as decider of automatic decisions
	SystemActor string

	// ExportTimezone is the IANA zone used in exported workbooks
	ExportTimezone string
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// TimerRecoverySchedule is a cron expression or descriptor
	TimerRecoverySchedule string
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled           bool
	RuntimeCollectors bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/approval.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
			BusyTimeout:     5 * time.Second,
		},
		Store: StoreConfig{Instances: StoreSQLite},
		Redis: redis.Options{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "approval:",
		},
		Lark: LarkConfig{
			Client:      lark.Config{Timeout: 30 * time.Second},
			SendTimeout: 10 * time.Second,
			Breaker: resilience.BreakerConfig{
				Name:                "notification_sender",
				Timeout:             30 * time.Second,
				ConsecutiveFailures: 5,
			},
		},
		Payment: PaymentConfig{
			Mode:    PaymentSimulated,
			Gateway: payment.Config{Timeout: 30 * time.Second},
			Breaker: resilience.BreakerConfig{
				Name:                "payment_processor",
				Timeout:             60 * time.Second,
				ConsecutiveFailures: 3,
			},
		},
		Engine: EngineConfig{
			DefaultReminderInterval: 24 * time.Hour,
			SystemActor:             "system",
			ExportTimezone:          "UTC",
		},
		Server: httpapi.DefaultServerConfig(),
		Worker: WorkerConfig{
			TimerRecoverySchedule: worker.DefaultRecoverySchedule,
		},
		Metrics: MetricsConfig{Enabled: true, RuntimeCollectors: true},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Store.Instances {
	case StoreSQLite:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when store.instances is redis")
		}
	default:
		return fmt.Errorf("store.instances must be %q or %q, got %q", StoreSQLite, StoreRedis, c.Store.Instances)
	}

	if c.Lark.Enabled {
		if c.Lark.Client.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.Client.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}
	if c.Lark.SendTimeout < 0 {
		return fmt.Errorf("lark.send_timeout cannot be negative")
	}

	switch c.Payment.Mode {
	case PaymentSimulated:
		if c.Payment.SimulatedLimit < 0 {
			return fmt.Errorf("payment.simulated_limit cannot be negative")
		}
	case PaymentHTTP:
		if c.Payment.Gateway.URL == "" {
			return fmt.Errorf("payment.url is required in http mode")
		}
	default:
		return fmt.Errorf("payment.mode must be %q or %q, got %q", PaymentSimulated, PaymentHTTP, c.Payment.Mode)
	}

	if c.Engine.DefaultReminderInterval < 0 {
		return fmt.Errorf("engine.default_reminder_interval cannot be negative")
	}
	if _, err := time.LoadLocation(c.Engine.ExportTimezone); err != nil {
		return fmt.Errorf("engine.export_timezone: %w", err)
	}

	if err := worker.ValidateSchedule(c.Worker.TimerRecoverySchedule); err != nil {
		return fmt.Errorf("workers.timer_recovery_schedule: %w", err)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	return nil
}
