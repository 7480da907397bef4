package config

import (
	"time"

	"github.com/garyjia/payment-approval/internal/container"
	"github.com/garyjia/payment-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/payment-approval/internal/infrastructure/external/payment"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/redis"
	"github.com/garyjia/payment-approval/internal/infrastructure/resilience"
	httpapi "github.com/garyjia/payment-approval/internal/interfaces/http"
	"github.com/garyjia/payment-approval/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
			MigrationsDir:   c.Database.MigrationsDir,
		},
		Store: container.StoreConfig{Instances: c.Store.Instances},
		Redis: redis.Options{
			Addr:         c.Redis.Addr,
			Password:     c.Redis.Password,
			DB:           c.Redis.DB,
			PoolSize:     c.Redis.PoolSize,
			MinIdleConns: c.Redis.MinIdleConns,
			IdleTimeout:  c.Redis.IdleTimeout,
			KeyPrefix:    c.Redis.KeyPrefix,
		},
		Lark: container.LarkConfig{
			Enabled: c.Lark.Enabled,
			Client: lark.Config{
				AppID:     c.Lark.AppID,
				AppSecret: c.Lark.AppSecret,
				BaseURL:   c.Lark.BaseURL,
				Timeout:   c.Lark.APITimeout,
			},
			Breaker:     c.Lark.Breaker.toResilience("notification_sender"),
			SendTimeout: c.Lark.SendTimeout,
		},
		Payment: container.PaymentConfig{
			Mode: c.Payment.Mode,
			Gateway: payment.Config{
				URL:       c.Payment.URL,
				APIKey:    c.Payment.APIKey,
				Timeout:   c.Payment.Timeout,
				RateLimit: c.Payment.RateLimit,
				Burst:     c.Payment.Burst,
			},
			SimulatedLimit: c.Payment.SimulatedLimit,
			Breaker:        c.Payment.Breaker.toResilience("payment_processor"),
		},
		Engine: container.EngineConfig{
			DefaultReminderInterval: time.Duration(c.Engine.DefaultReminderHours * float64(time.Hour)),
			SystemActor:             c.Engine.SystemActor,
			ExportTimezone:          c.Engine.ExportTimezone,
		},
		Server: httpapi.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			Mode:            c.Server.Mode,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
		},
		Worker: container.WorkerConfig{
			TimerRecoverySchedule: c.Workers.TimerRecoverySchedule,
		},
		Metrics: container.MetricsConfig{
			Enabled:           c.Metrics.Enabled,
			RuntimeCollectors: c.Metrics.RuntimeCollectors,
		},
	}
}

// ToLoggerConfig converts the logger section for pkg/utils.NewLogger
func (c *Config) ToLoggerConfig(service string) utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
		Service:    service,
	}
}

func (b BreakerConfig) toResilience(name string) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Name:                name,
		MaxRequests:         b.MaxRequests,
		Interval:            b.Interval,
		Timeout:             b.Timeout,
		ConsecutiveFailures: b.ConsecutiveFailures,
	}
}
