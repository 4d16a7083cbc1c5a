package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provisioning outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeConflict = "conflict"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics provides observability for the organization module.
type Metrics struct {
	Provisioned          *prometheus.CounterVec
	ProvisionDuration    prometheus.Histogram
	OrganizationsRemoved prometheus.Counter
}

// New registers the organization metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers with reg, so tests can use a private registry.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Provisioned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "concierge_organizations_provisioned_total",
			Help: "Provisioning requests by outcome (created, conflict, invalid, error)",
		}, []string{"outcome"}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "concierge_provision_duration_seconds",
			Help:    "Duration of Provision including credential hashing and the store transaction",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		OrganizationsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "concierge_organizations_removed_total",
			Help: "Total number of organizations soft-deleted",
		}),
	}
}

// ObserveProvision records the outcome and duration of a Provision call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveProvision(outcome string, start time.Time) {
	m.Provisioned.WithLabelValues(outcome).Inc()
	m.ProvisionDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRemoved() {
	m.OrganizationsRemoved.Inc()
}
