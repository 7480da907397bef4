package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultRecoverySchedule re-arms persisted timers every five minutes
const DefaultRecoverySchedule = "@every 5m"

// TimerRecoverer re-arms persisted approval timers and reports how many were armed
type TimerRecoverer interface {
	RecoverTimers(ctx context.Context) (int, error)
}

// TimerRecoveryWorker runs timer recovery once at start and then on a cron
// schedule. Recovery skips timers already armed in this process, so repeated
// runs only pick up records written by other processes or lost on restart.
type TimerRecoveryWorker struct {
	recoverer TimerRecoverer
	schedule  string
	timeout   time.Duration
	logger    *zap.Logger

	mu   sync.Mutex
	cron *cron.Cron
	ctx  context.Context
}

// NewTimerRecoveryWorker creates the worker. An empty schedule uses DefaultRecoverySchedule.
func NewTimerRecoveryWorker(recoverer TimerRecoverer, schedule string, logger *zap.Logger) *TimerRecoveryWorker {
	if schedule == "" {
		schedule = DefaultRecoverySchedule
	}
	return &TimerRecoveryWorker{
		recoverer: recoverer,
		schedule:  schedule,
		timeout:   time.Minute,
		logger:    logger,
	}
}

// ValidateSchedule reports whether spec is a standard cron expression or descriptor
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return nil
}

// Name returns the worker name
func (w *TimerRecoveryWorker) Name() string {
	return "timer_recovery"
}

// Start runs one recovery pass synchronously and schedules the rest
func (w *TimerRecoveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("timer recovery worker already started")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.schedule, w.run); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", w.schedule, err)
	}
	w.ctx = ctx

	w.runWith(ctx)

	c.Start()
	w.cron = c
	w.logger.Info("Timer recovery scheduled", zap.String("schedule", w.schedule))
	return nil
}

// Stop stops the schedule and waits for a running pass to finish
func (w *TimerRecoveryWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// RunOnce performs a single recovery pass
func (w *TimerRecoveryWorker) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.recoverer.RecoverTimers(ctx)
}

func (w *TimerRecoveryWorker) run() {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	w.runWith(ctx)
}

func (w *TimerRecoveryWorker) runWith(ctx context.Context) {
	n, err := w.RunOnce(ctx)
	if err != nil {
		w.logger.Error("Timer recovery failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Timer recovery re-armed timers", zap.Int("count", n))
	}
}
