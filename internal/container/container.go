package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/application/service"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/infrastructure/metrics"
	"github.com/garyjia/payment-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payment-approval/internal/infrastructure/resilience"
	"github.com/garyjia/payment-approval/internal/infrastructure/worker"
	httpapi "github.com/garyjia/payment-approval/internal/interfaces/http"
	"github.com/garyjia/payment-approval/pkg/clock"
	"github.com/garyjia/payment-approval/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger
	clock  clock.Clock

	// Infrastructure - Data
	rawDB        *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle
	instances    *InstanceStoreBundle

	// Infrastructure - External
	recorder  *metrics.Recorder
	sender    *resilience.BreakerSender
	processor *resilience.BreakerProcessor

	// Application
	dispatcher dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	workflow   workflow.WorkflowEngine
	approval   service.ApprovalService

	// Workers and interfaces
	workers *worker.WorkerManager
	server  *httpapi.Server

	// Lifecycle
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Instance       port.InstanceRepository
	Graph          port.GraphRepository
	PaymentRequest port.PaymentRequestRepository
	User           port.UserDirectory
	Organization   port.OrganizationRepository
	History        port.HistoryRepository
	Notification   port.NotificationRepository
	Timer          port.TimerRepository
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option customizes a container
type Option func(*Container)

// WithClock replaces the wall clock, e.g. with a manual clock in tests
func WithClock(c clock.Clock) Option {
	return func(ct *Container) { ct.clock = c }
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config: cfg,
		logger: logger,
		clock:  clock.Real{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database, repositories and instance store
// 2. Metrics and external collaborators (notifications, payments)
// 3. Event dispatcher, workflow engine and approval service
// 4. Workers (timer recovery)
// 5. HTTP server (constructed; Run serves it)
// A failure part way releases what was already opened.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"external collaborators", c.initExternal},
		{"workflow engine", c.initWorkflow},
		{"workers", c.initWorkers},
		{"http server", c.initServer},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.shutdown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully",
		zap.String("instance_store", c.instances.Backend),
		zap.String("payment_mode", c.config.Payment.Mode))
	return nil
}

// Run serves HTTP until ctx is cancelled
func (c *Container) Run(ctx context.Context) error {
	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	return c.server.Start(ctx)
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.shutdown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// shutdown releases components in reverse initialization order
func (c *Container) shutdown() []error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
		c.server = nil
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	// Pending timers are persisted and re-armed by the recovery worker on the next start
	if c.scheduler != nil {
		c.scheduler.Stop()
		c.scheduler = nil
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		c.dispatcher = nil
	}

	if c.instances != nil {
		if err := c.instances.Close(); err != nil {
			c.logger.Error("Failed to close instance store", zap.Error(err))
			errs = append(errs, fmt.Errorf("close instance store: %w", err))
		}
		c.instances = nil
	}

	if c.rawDB != nil {
		if err := c.rawDB.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.rawDB = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	for name, check := range c.healthChecks() {
		set(name, check(ctx))
	}

	if c.workers != nil && c.workers.IsRunning() {
		status.Components["workers"] = ComponentHealth{
			Healthy: true,
			Message: fmt.Sprintf("worker count: %d", c.workers.GetWorkerCount()),
		}
	} else {
		set("workers", fmt.Errorf("not running"))
	}

	if c.sender != nil {
		status.Components["notification_sender"] = ComponentHealth{Healthy: true, Message: c.sender.State().String()}
	}
	if c.processor != nil {
		status.Components["payment_processor"] = ComponentHealth{Healthy: true, Message: c.processor.State().String()}
	}

	return status
}

func (c *Container) healthChecks() map[string]httpapi.HealthCheck {
	checks := make(map[string]httpapi.HealthCheck)
	if c.rawDB != nil {
		checks["database"] = c.rawDB.Health
	} else {
		checks["database"] = func(context.Context) error { return fmt.Errorf("not initialized") }
	}
	if pinger, ok := c.instancesRepository().(interface {
		Ping(ctx context.Context) error
	}); ok {
		checks["instance_store"] = pinger.Ping
	}
	return checks
}

func (c *Container) instancesRepository() port.InstanceRepository {
	if c.instances == nil {
		return nil
	}
	return c.instances.Repository
}

// initDatabase opens the database, builds the repositories and picks the instance store.
func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.rawDB = bundle.Raw
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos

	store, err := ProvideInstanceStore(c.ctx, c.config, repos, c.logger)
	if err != nil {
		return err
	}
	c.instances = store
	return nil
}

// initExternal creates the metrics recorder and the breaker-wrapped collaborators.
func (c *Container) initExternal() error {
	var listener resilience.StateListener
	if c.config.Metrics.Enabled {
		c.recorder = metrics.NewRecorder(c.config.Metrics.RuntimeCollectors)
		listener = c.recorder.BreakerStateChanged
	}

	c.sender = ProvideNotificationSender(&c.config.Lark, listener, c.logger.Named("lark"))
	c.processor = ProvidePaymentProcessor(&c.config.Payment, listener, c.logger.Named("payment"))
	return nil
}

// initWorkflow creates the dispatcher, engine and approval service.
func (c *Container) initWorkflow() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	if c.recorder != nil {
		c.recorder.Subscribe(disp)
	}

	bundle, err := ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		Instances:  c.instances.Repository,
		TxManager:  c.db,
		Sender:     c.sender,
		Payments:   c.processor,
		Dispatcher: c.dispatcher,
		Clock:      c.clock,
		Engine:     c.config.Engine,
		Lark:       c.config.Lark,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = bundle.Engine
	c.scheduler = bundle.Scheduler

	c.approval, err = ProvideApprovalService(c.workflow, c.repositories, &c.config.Engine, c.logger)
	return err
}

// initWorkers creates and starts background workers.
func (c *Container) initWorkers() error {
	c.workers = ProvideWorkers(c.workflow, &c.config.Worker, c.logger)
	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	return nil
}

// initServer builds the HTTP adapter.
func (c *Container) initServer() error {
	c.server = ProvideHTTPServer(c.config.Server, c.approval, c.recorder, c.healthChecks(), c.logger)
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all SQLite repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Instances returns the configured instance repository.
func (c *Container) Instances() port.InstanceRepository {
	return c.instancesRepository()
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// ApprovalService returns the approval service.
func (c *Container) ApprovalService() service.ApprovalService {
	return c.approval
}

// Metrics returns the metrics recorder, nil when metrics are disabled.
func (c *Container) Metrics() *metrics.Recorder {
	return c.recorder
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// HTTPServer returns the HTTP adapter.
func (c *Container) HTTPServer() *httpapi.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the narrow Logger interfaces of the
// application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
