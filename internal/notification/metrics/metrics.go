package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery outcomes recorded by the worker.
const (
	OutcomeSent     = "sent"
	OutcomeRetried  = "retried"
	OutcomeRetained = "retained"
)

// Metrics tracks the notification pipeline from dispatch to delivery.
type Metrics struct {
	Enqueued         prometheus.Counter
	DispatchFailures prometheus.Counter
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
}

// New registers the notification metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers with reg, so tests can use a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_notification_enqueued_total",
			Help: "Total number of notification jobs accepted by the queue",
		}),
		DispatchFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_notification_dispatch_failures_total",
			Help: "Total number of notifications that could not be handed to the queue",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_notification_deliveries_total",
			Help: "Delivery attempts by outcome (sent, retried, retained)",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "concierge_notification_delivery_duration_seconds",
			Help:    "Duration of a single render and send attempt",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

func (m *Metrics) IncrementEnqueued() {
	m.Enqueued.Inc()
}

func (m *Metrics) IncrementDispatchFailures() {
	m.DispatchFailures.Inc()
}

// RecordDelivery counts one attempt with its outcome and duration.
// Call with time.Now() at the start of the attempt.
func (m *Metrics) RecordDelivery(outcome string, start time.Time) {
	m.Deliveries.WithLabelValues(outcome).Inc()
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
}
