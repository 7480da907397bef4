package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// BreakerConfig configures a circuit breaker
type BreakerConfig struct {
	Name string
	// MaxRequests allowed through while half-open
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears them
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
}

// StateListener is told about breaker state changes, e.g. to export metrics
type StateListener func(name string, from, to gobreaker.State)

func newBreaker(cfg BreakerConfig, logger *zap.Logger, listener StateListener) *gobreaker.CircuitBreaker {
	threshold := cfg.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: maxRequests,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if listener != nil {
				listener(name, from, to)
			}
		},
	})
}

// BreakerSender guards a notification sender with a circuit breaker. While
// open, sends fail fast and are recorded as failed deliveries.
type BreakerSender struct {
	next    port.NotificationSender
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerSender wraps next
func NewBreakerSender(next port.NotificationSender, cfg BreakerConfig, logger *zap.Logger, listener StateListener) *BreakerSender {
	if cfg.Name == "" {
		cfg.Name = "notification_sender"
	}
	return &BreakerSender{
		next:    next,
		breaker: newBreaker(cfg, logger, listener),
	}
}

var _ port.NotificationSender = (*BreakerSender)(nil)

// Send delivers through the breaker
func (s *BreakerSender) Send(ctx context.Context, recipient *entity.User, n port.Notification) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.next.Send(ctx, recipient, n)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", s.breaker.Name(), err)
	}
	return nil
}

// State returns the breaker state
func (s *BreakerSender) State() gobreaker.State {
	return s.breaker.State()
}

// BreakerProcessor guards a payment processor with a circuit breaker.
// Declined payments are answers, not failures, and do not trip it.
type BreakerProcessor struct {
	next    port.PaymentProcessor
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerProcessor wraps next
func NewBreakerProcessor(next port.PaymentProcessor, cfg BreakerConfig, logger *zap.Logger, listener StateListener) *BreakerProcessor {
	if cfg.Name == "" {
		cfg.Name = "payment_processor"
	}
	return &BreakerProcessor{
		next:    next,
		breaker: newBreaker(cfg, logger, listener),
	}
}

var _ port.PaymentProcessor = (*BreakerProcessor)(nil)

// Process charges through the breaker
func (p *BreakerProcessor) Process(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentResult, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.next.Process(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.breaker.Name(), err)
	}
	result, _ := out.(*entity.PaymentResult)
	return result, nil
}

// State returns the breaker state
func (p *BreakerProcessor) State() gobreaker.State {
	return p.breaker.State()
}
