package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/domain/event"
)

const namespace = "approval"

// Recorder turns engine events into Prometheus metrics. It owns its
// registry so tests and multiple engines do not collide.
type Recorder struct {
	registry *prometheus.Registry

	instancesStarted  prometheus.Counter
	instancesFinished *prometheus.CounterVec
	instanceDuration  *prometheus.HistogramVec
	activeInstances   prometheus.Gauge
	nodeTransitions   *prometheus.CounterVec
	decisions         *prometheus.CounterVec
	reminders         prometheus.Counter
	payments          *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
}

// NewRecorder creates a recorder with its metrics registered. Process and Go
// runtime collectors are included when withRuntime is set.
func NewRecorder(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		instancesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Total number of workflow instances started",
		}),
		instancesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_finished_total",
			Help:      "Total number of workflow instances that reached a terminal state",
		}, []string{"status"}),
		instanceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instance_duration_seconds",
			Help:      "Time from start to terminal state of workflow instances",
			Buckets:   []float64{1, 60, 600, 3600, 4 * 3600, 24 * 3600, 3 * 24 * 3600, 7 * 24 * 3600},
		}, []string{"status"}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_instances",
			Help:      "Workflow instances started and not yet finished by this process",
		}),
		nodeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Node status transitions by node kind and new status",
		}, []string{"kind", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Approval node resolutions",
		}, []string{"outcome", "automatic"}),
		reminders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_total",
			Help:      "Reminders sent for pending approvals",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment attempts by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by intent and result",
		}, []string{"intent", "result"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		}, []string{"breaker"}),
	}

	r.registry.MustRegister(
		r.instancesStarted,
		r.instancesFinished,
		r.instanceDuration,
		r.activeInstances,
		r.nodeTransitions,
		r.decisions,
		r.reminders,
		r.payments,
		r.notifications,
		r.breakerState,
	)
	if withRuntime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Subscribe registers the recorder for every event of d
func (r *Recorder) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeAll("metrics_recorder", r.Handle)
}

// Handle records one event
func (r *Recorder) Handle(_ context.Context, evt *event.Event) error {
	switch evt.Type {
	case event.TypeInstanceStarted:
		r.instancesStarted.Inc()
		r.activeInstances.Inc()
	case event.TypeInstanceCompleted:
		r.finished("completed", evt)
	case event.TypeInstanceFailed:
		r.finished("failed", evt)
	case event.TypeNodeStatusChanged:
		r.nodeTransitions.WithLabelValues(evt.GetPayloadString("kind"), evt.GetPayloadString("new_status")).Inc()
	case event.TypeApprovalResolved:
		outcome := "rejected"
		if evt.GetPayloadBool("approved") {
			outcome = "approved"
		}
		r.decisions.WithLabelValues(outcome, strconv.FormatBool(evt.GetPayloadBool("automatic"))).Inc()
	case event.TypeReminderSent:
		r.reminders.Inc()
	case event.TypePaymentProcessed:
		result := "failed"
		if evt.GetPayloadBool("success") {
			result = "paid"
		}
		r.payments.WithLabelValues(result).Inc()
	case event.TypeNotificationDelivered:
		result := "failed"
		if evt.GetPayloadBool("success") {
			result = "sent"
		}
		r.notifications.WithLabelValues(evt.GetPayloadString("intent"), result).Inc()
	}
	return nil
}

func (r *Recorder) finished(status string, evt *event.Event) {
	r.instancesFinished.WithLabelValues(status).Inc()
	r.activeInstances.Dec()
	if d := evt.GetPayloadFloat("duration"); d > 0 {
		r.instanceDuration.WithLabelValues(status).Observe(d)
	}
}

// BreakerStateChanged exports a circuit breaker transition
func (r *Recorder) BreakerStateChanged(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	r.breakerState.WithLabelValues(name).Set(v)
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
