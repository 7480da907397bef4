// Package scheduler arms cancellable reminder and auto-approve timers for
// approval nodes, keyed by (instance id, node id).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/pkg/clock"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Key identifies the timer of one approval node
type Key struct {
	InstanceID string
	NodeID     string
}

// Handler is called when a timer fires. generation identifies the arm that
// fired; the handler must confirm it is still Current before acting.
type Handler func(ctx context.Context, key Key, kind string, generation uint64)

type entry struct {
	kind       string
	generation uint64
	timer      clock.Timer
	fireAt     time.Time
}

// Scheduler holds at most one armed timer per key
type Scheduler struct {
	clock  clock.Clock
	store  port.TimerRepository
	logger Logger

	mu         sync.Mutex
	handler    Handler
	entries    map[Key]*entry
	generation uint64
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithStore persists armed timers so they can be recovered after a restart
func WithStore(store port.TimerRepository) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithLogger sets a logger for the scheduler
func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler running on c
func New(c clock.Clock, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:   c,
		entries: make(map[Key]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler registers the callback for fired timers
func (s *Scheduler) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Arm schedules a timer for key, replacing any timer already armed for it.
// It returns the generation of the new timer, or 0 once the scheduler is stopped.
func (s *Scheduler) Arm(ctx context.Context, key Key, kind string, delay time.Duration) uint64 {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0
	}
	if old, ok := s.entries[key]; ok {
		old.timer.Stop()
	}
	s.generation++
	gen := s.generation
	now := s.clock.Now()
	e := &entry{kind: kind, generation: gen, fireAt: now.Add(delay)}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(key, gen) })
	s.entries[key] = e
	s.mu.Unlock()

	if s.store != nil {
		err := s.store.Upsert(ctx, &entity.TimerRecord{
			InstanceID: key.InstanceID,
			NodeID:     key.NodeID,
			Kind:       kind,
			FireAt:     e.fireAt,
			Interval:   delay,
			CreatedAt:  now,
		})
		if err != nil && s.logger != nil {
			s.logger.Error("Failed to persist timer",
				"instance_id", key.InstanceID,
				"node_id", key.NodeID,
				"error", err,
			)
		}
	}

	if s.logger != nil {
		s.logger.Info("Timer armed",
			"instance_id", key.InstanceID,
			"node_id", key.NodeID,
			"kind", kind,
			"delay", delay.String(),
			"generation", gen,
		)
	}
	return gen
}

// Cancel stops the timer for key. It returns false if nothing was armed.
func (s *Scheduler) Cancel(ctx context.Context, key Key) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		e.timer.Stop()
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Delete(ctx, key.InstanceID, key.NodeID); err != nil && s.logger != nil {
			s.logger.Error("Failed to delete persisted timer",
				"instance_id", key.InstanceID,
				"node_id", key.NodeID,
				"error", err,
			)
		}
	}

	if ok && s.logger != nil {
		s.logger.Info("Timer cancelled",
			"instance_id", key.InstanceID,
			"node_id", key.NodeID,
			"generation", e.generation,
		)
	}
	return ok
}

// Armed returns the kind of the timer armed for key
func (s *Scheduler) Armed(key Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	return e.kind, true
}

// Current reports whether generation is still the armed timer for key
func (s *Scheduler) Current(key Key, generation uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.generation == generation
}

// Len returns the number of armed timers
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every armed timer without touching persisted records, so
// they can be recovered by the next process.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
	s.cancel()
}

func (s *Scheduler) fire(key Key, generation uint64) {
	s.mu.Lock()
	e, ok := s.entries[key]
	current := ok && e.generation == generation && !s.stopped
	handler := s.handler
	s.mu.Unlock()

	if !current {
		if s.logger != nil {
			s.logger.Info("Dropping stale timer",
				"instance_id", key.InstanceID,
				"node_id", key.NodeID,
				"generation", generation,
			)
		}
		return
	}
	if handler == nil {
		return
	}
	handler(s.ctx, key, e.kind, generation)
}
