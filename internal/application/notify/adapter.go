// Package notify turns workflow happenings into notification-sender calls.
// Delivery is best effort: outcomes are recorded and logged but never
// returned as errors, so graph progress is never blocked by a sender.
package notify

import (
	"context"
	"time"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/pkg/clock"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DeliveryReport lists the recipient ids a notification reached or missed
type DeliveryReport struct {
	Sent   []string
	Failed []string
}

// Adapter fans a notification out to its recipients
type Adapter struct {
	sender     port.NotificationSender
	records    port.NotificationRepository
	dispatcher dispatcher.Dispatcher
	clock      clock.Clock
	logger     Logger

	sendTimeout time.Duration
}

// Option configures the adapter
type Option func(*Adapter)

// WithRecords stores one NotificationRecord per delivery attempt
func WithRecords(repo port.NotificationRepository) Option {
	return func(a *Adapter) { a.records = repo }
}

// WithDispatcher emits a notification.delivered event per delivery attempt
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(a *Adapter) { a.dispatcher = d }
}

// WithClock sets the clock used to timestamp records
func WithClock(c clock.Clock) Option {
	return func(a *Adapter) { a.clock = c }
}

// WithLogger sets a logger for the adapter
func WithLogger(l Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithSendTimeout bounds each Send call. Dispatch runs under the instance
// lock, so a stalled sender would otherwise hold it indefinitely.
func WithSendTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.sendTimeout = d }
}

// NewAdapter creates an adapter delivering through sender
func NewAdapter(sender port.NotificationSender, opts ...Option) *Adapter {
	a := &Adapter{sender: sender, clock: clock.NewReal()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Dispatch sends n to every recipient and reports the outcome
func (a *Adapter) Dispatch(ctx context.Context, n port.Notification, recipients []*entity.User) DeliveryReport {
	var report DeliveryReport

	for _, r := range recipients {
		if r == nil {
			continue
		}

		err := a.send(ctx, r, n)
		record := &entity.NotificationRecord{
			InstanceID:  n.InstanceID,
			NodeID:      n.NodeID,
			Intent:      string(n.Intent),
			RecipientID: r.ID,
			Status:      entity.NotificationStatusSent,
			CreatedAt:   a.clock.Now(),
		}

		if err != nil {
			report.Failed = append(report.Failed, r.ID)
			record.Status = entity.NotificationStatusFailed
			record.ErrorMessage = err.Error()
			if a.logger != nil {
				a.logger.Error("Notification delivery failed",
					"instance_id", n.InstanceID,
					"node_id", n.NodeID,
					"intent", n.Intent,
					"recipient_id", r.ID,
					"error", err,
				)
			}
		} else {
			report.Sent = append(report.Sent, r.ID)
		}

		a.record(ctx, record)
		a.emit(ctx, n, r.ID, err)
	}

	if a.logger != nil {
		a.logger.Info("Notification dispatched",
			"instance_id", n.InstanceID,
			"node_id", n.NodeID,
			"intent", n.Intent,
			"sent", len(report.Sent),
			"failed", len(report.Failed),
		)
	}

	return report
}

func (a *Adapter) send(ctx context.Context, r *entity.User, n port.Notification) error {
	if a.sendTimeout <= 0 {
		return a.sender.Send(ctx, r, n)
	}
	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	return a.sender.Send(sendCtx, r, n)
}

func (a *Adapter) record(ctx context.Context, record *entity.NotificationRecord) {
	if a.records == nil {
		return
	}
	if err := a.records.Create(ctx, record); err != nil && a.logger != nil {
		a.logger.Error("Failed to record notification outcome",
			"instance_id", record.InstanceID,
			"recipient_id", record.RecipientID,
			"error", err,
		)
	}
}

func (a *Adapter) emit(ctx context.Context, n port.Notification, recipientID string, sendErr error) {
	if a.dispatcher == nil {
		return
	}
	payload := map[string]interface{}{
		"intent":       string(n.Intent),
		"recipient_id": recipientID,
		"success":      sendErr == nil,
	}
	if sendErr != nil {
		payload["error"] = sendErr.Error()
	}
	a.dispatcher.DispatchAsync(context.WithoutCancel(ctx),
		event.NewEvent(event.TypeNotificationDelivered, n.InstanceID, n.NodeID, payload))
}
