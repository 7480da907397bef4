package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

func TestRecorder_CountsEngineEvents(t *testing.T) {
	r := NewRecorder(false)
	d := dispatcher.NewDispatcher()
	defer d.Close()
	r.Subscribe(d)
	ctx := context.Background()

	events := []*event.Event{
		event.NewEvent(event.TypeInstanceStarted, "i1", "", nil),
		event.NewEvent(event.TypeInstanceStarted, "i2", "", nil),
		event.NewEvent(event.TypeNodeStatusChanged, "i1", "approve", map[string]interface{}{
			"kind": "approval", "new_status": "RUNNING",
		}),
		event.NewEvent(event.TypeApprovalResolved, "i1", "approve", map[string]interface{}{
			"approved": true, "automatic": false,
		}),
		event.NewEvent(event.TypeApprovalResolved, "i2", "approve", map[string]interface{}{
			"approved": true, "automatic": true,
		}),
		event.NewEvent(event.TypePaymentProcessed, "i1", "pay", map[string]interface{}{"success": true}),
		event.NewEvent(event.TypePaymentProcessed, "i2", "pay", map[string]interface{}{"success": false}),
		event.NewEvent(event.TypeReminderSent, "i1", "approve", nil),
		event.NewEvent(event.TypeNotificationDelivered, "i1", "approve", map[string]interface{}{
			"intent": "approval_request", "success": true,
		}),
		event.NewEvent(event.TypeNotificationDelivered, "i1", "approve", map[string]interface{}{
			"intent": "approval_request", "success": false,
		}),
		event.NewEvent(event.TypeInstanceCompleted, "i1", "", map[string]interface{}{"duration": 120.0}),
		event.NewEvent(event.TypeInstanceFailed, "i2", "", map[string]interface{}{"duration": 30.0}),
	}
	for _, evt := range events {
		require.NoError(t, d.Dispatch(ctx, evt))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(r.instancesStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.activeInstances))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instancesFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instancesFinished.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.nodeTransitions.WithLabelValues("approval", "RUNNING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("approved", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("approved", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.payments.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.payments.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reminders))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("approval_request", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.notifications.WithLabelValues("approval_request", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.instanceDuration))
}

func TestRecorder_BreakerStateAndHandler(t *testing.T) {
	r := NewRecorder(false)

	r.BreakerStateChanged("payment_processor", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.breakerState.WithLabelValues("payment_processor")))
	r.BreakerStateChanged("payment_processor", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(r.breakerState.WithLabelValues("payment_processor")))
	r.BreakerStateChanged("payment_processor", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.breakerState.WithLabelValues("payment_processor")))

	r.instancesStarted.Inc()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "approval_instances_started_total 1")
	assert.Contains(t, string(body), "approval_circuit_breaker_state")
}
