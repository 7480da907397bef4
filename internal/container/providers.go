package container

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/approver"
	"github.com/garyjia/payment-approval/internal/application/condition"
	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/external/lark"
	"github.com/garyjia/payment-approval/internal/infrastructure/external/payment"
	"github.com/garyjia/payment-approval/internal/infrastructure/metrics"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/redis"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payment-approval/internal/infrastructure/report"
	"github.com/garyjia/payment-approval/internal/infrastructure/resilience"
	"github.com/garyjia/payment-approval/internal/infrastructure/worker"
	httpapi "github.com/garyjia/payment-approval/internal/interfaces/http"
	"github.com/garyjia/payment-approval/migrations"
	"github.com/garyjia/payment-approval/pkg/clock"
	"github.com/garyjia/payment-approval/pkg/database"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	Raw            *database.DB
	TransactionMgr *sqlite.DB
}

// InstanceStoreBundle holds the instance repository and how to release it.
type InstanceStoreBundle struct {
	Repository port.InstanceRepository
	Backend    string
	Close      func() error
}

// ProvideDatabase opens the SQLite database and applies pending migrations.
// Migrations come from the binary unless cfg.MigrationsDir points elsewhere.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	raw, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	migrator := database.NewMigrator(raw, logger)
	if cfg.MigrationsDir != "" {
		err = migrator.RunMigrations(cfg.MigrationsDir)
	} else {
		err = migrator.Run(migrations.FS)
	}
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Raw:            raw,
		TransactionMgr: sqlite.NewDB(raw.DB, logger),
	}, nil
}

// ProvideRepositories creates all SQLite repositories.
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Instance:       sqlite.NewInstanceRepository(db, logger),
		Graph:          sqlite.NewGraphRepository(db, logger),
		PaymentRequest: sqlite.NewPaymentRequestRepository(db, logger),
		User:           sqlite.NewUserRepository(db, logger),
		Organization:   sqlite.NewOrganizationRepository(db, logger),
		History:        sqlite.NewHistoryRepository(db, logger),
		Notification:   sqlite.NewNotificationRepository(db, logger),
		Timer:          sqlite.NewTimerRepository(db, logger),
	}, nil
}

// ProvideInstanceStore selects the instance repository. With redis the
// instance documents leave SQLite; history and timers stay there.
func ProvideInstanceStore(ctx context.Context, cfg *Config, repos *RepositoryBundle, logger *zap.Logger) (*InstanceStoreBundle, error) {
	switch cfg.Store.Instances {
	case StoreRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store := redis.NewInstanceStore(client, cfg.Redis.KeyPrefix, logger)
		logger.Info("Using redis instance store", zap.String("addr", cfg.Redis.Addr))
		return &InstanceStoreBundle{Repository: store, Backend: StoreRedis, Close: store.Close}, nil
	default:
		return &InstanceStoreBundle{
			Repository: repos.Instance,
			Backend:    StoreSQLite,
			Close:      func() error { return nil },
		}, nil
	}
}

// ProvideNotificationSender creates the Lark messenger (or a log-only sender)
// behind a circuit breaker.
func ProvideNotificationSender(cfg *LarkConfig, listener resilience.StateListener, logger *zap.Logger) *resilience.BreakerSender {
	var sender port.NotificationSender
	if cfg.Enabled {
		sender = lark.NewMessenger(lark.NewClient(cfg.Client, logger), logger)
		logger.Info("Lark notifications enabled")
	} else {
		sender = lark.NewLogSender(logger)
		logger.Info("Lark disabled, notifications are logged only")
	}
	return resilience.NewBreakerSender(sender, cfg.Breaker, logger, listener)
}

// ProvidePaymentProcessor creates the gateway client (or the simulator)
// behind a circuit breaker.
func ProvidePaymentProcessor(cfg *PaymentConfig, listener resilience.StateListener, logger *zap.Logger) *resilience.BreakerProcessor {
	var processor port.PaymentProcessor
	switch cfg.Mode {
	case PaymentHTTP:
		processor = payment.NewHTTPProcessor(cfg.Gateway, logger)
		logger.Info("Using payment gateway", zap.String("url", cfg.Gateway.URL))
	default:
		processor = payment.NewSimulatedProcessor(cfg.SimulatedLimit, logger)
		logger.Info("Using simulated payments", zap.Float64("limit", cfg.SimulatedLimit))
	}
	return resilience.NewBreakerProcessor(processor, cfg.Breaker, logger, listener)
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")})), nil
}

// WorkflowDeps holds dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Instances  port.InstanceRepository
	TxManager  port.TransactionManager
	Sender     port.NotificationSender
	Payments   port.PaymentProcessor
	Dispatcher dispatcher.Dispatcher
	Clock      clock.Clock
	Engine     EngineConfig
	Lark       LarkConfig
	Logger     *zap.Logger
}

// WorkflowBundle holds the engine and the scheduler driving its timers.
type WorkflowBundle struct {
	Engine    workflow.WorkflowEngine
	Scheduler *scheduler.Scheduler
}

// ProvideWorkflowEngine wires the engine with its collaborators.
func ProvideWorkflowEngine(deps *WorkflowDeps) (*WorkflowBundle, error) {
	if deps == nil || deps.Repos == nil {
		return nil, fmt.Errorf("workflow dependencies are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	c := deps.Clock
	if c == nil {
		c = clock.Real{}
	}
	instances := deps.Instances
	if instances == nil {
		instances = deps.Repos.Instance
	}

	sched := scheduler.New(c,
		scheduler.WithStore(deps.Repos.Timer),
		scheduler.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("scheduler")}),
	)

	notifier := notify.NewAdapter(deps.Sender,
		notify.WithRecords(deps.Repos.Notification),
		notify.WithDispatcher(deps.Dispatcher),
		notify.WithClock(c),
		notify.WithSendTimeout(deps.Lark.SendTimeout),
		notify.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("notify")}),
	)

	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger.Named("engine")}),
		workflow.WithGraphRepository(deps.Repos.Graph),
		workflow.WithTimerRepository(deps.Repos.Timer),
	}
	if deps.Engine.SystemActor != "" {
		opts = append(opts, workflow.WithSystemActor(deps.Engine.SystemActor))
	}
	if deps.Engine.DefaultReminderInterval > 0 {
		opts = append(opts, workflow.WithDefaultReminderInterval(deps.Engine.DefaultReminderInterval))
	}

	engine := workflow.NewEngine(workflow.Deps{
		Instances:       instances,
		PaymentRequests: deps.Repos.PaymentRequest,
		History:         deps.Repos.History,
		TxManager:       deps.TxManager,
		Resolver:        approver.NewResolver(deps.Repos.User),
		Notifier:        notifier,
		Payments:        deps.Payments,
		Conditions:      condition.NewEvaluator(),
		Scheduler:       sched,
		Clock:           c,
	}, opts...)

	return &WorkflowBundle{Engine: engine, Scheduler: sched}, nil
}

// ProvideApprovalService creates the approval service with its exporter.
func ProvideApprovalService(engine workflow.WorkflowEngine, repos *RepositoryBundle, cfg *EngineConfig, logger *zap.Logger) (service.ApprovalService, error) {
	loc, err := time.LoadLocation(cfg.ExportTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid export timezone: %w", err)
	}

	return service.NewApprovalService(service.Deps{
		Engine:          engine,
		PaymentRequests: repos.PaymentRequest,
		Users:           repos.User,
		Organizations:   repos.Organization,
		Graphs:          repos.Graph,
		History:         repos.History,
		Notifications:   repos.Notification,
		Exporter:        report.NewHistoryExporter(loc, logger.Named("report")),
	}, &zapLoggerAdapter{logger: logger.Named("service")}), nil
}

// ProvideWorkers creates the worker manager with the timer recovery worker.
func ProvideWorkers(engine workflow.WorkflowEngine, cfg *WorkerConfig, logger *zap.Logger) *worker.WorkerManager {
	manager := worker.NewWorkerManager(logger.Named("workers"))
	manager.Register(worker.NewTimerRecoveryWorker(engine, cfg.TimerRecoverySchedule, logger.Named("timer_recovery")))
	return manager
}

// ProvideHTTPServer creates the HTTP adapter.
func ProvideHTTPServer(cfg httpapi.ServerConfig, svc service.ApprovalService, recorder *metrics.Recorder, checks map[string]httpapi.HealthCheck, logger *zap.Logger) *httpapi.Server {
	var opts []httpapi.ServerOption
	if recorder != nil {
		opts = append(opts, httpapi.WithMetricsHandler(recorder.Handler()))
	}
	for name, check := range checks {
		opts = append(opts, httpapi.WithHealthCheck(name, check))
	}
	return httpapi.NewServer(cfg, svc, &zapLoggerAdapter{logger: logger.Named("http")}, opts...)
}
