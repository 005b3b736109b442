// Package metrics holds the Prometheus instruments exported by ansd.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ans"

// Rejection reasons used as the "reason" label on RegistrationsRejected.
const (
	ReasonInvalid     = "invalid"
	ReasonProof       = "proof"
	ReasonKeyConflict = "key_conflict"
	ReasonInternal    = "internal"
)

// Metrics holds the registry's Prometheus instruments.
type Metrics struct {
	reg *prometheus.Registry

	Registrations         *prometheus.CounterVec
	RegistrationsRejected *prometheus.CounterVec
	Lookups               prometheus.Counter
	LookupDuration        prometheus.Histogram
	Deregistrations       prometheus.Counter
	RateLimited           prometheus.Counter
}

// New creates Metrics on a private registry. agentCount backs the
// ans_agents gauge and may be nil.
func New(agentCount func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		Registrations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Accepted registrations, by kind (new or update).",
		}, []string{"kind"}),
		RegistrationsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_rejected_total",
			Help:      "Rejected registrations, by reason.",
		}, []string{"reason"}),
		Lookups: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Lookup requests served.",
		}),
		LookupDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Lookup latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		Deregistrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deregistrations_total",
			Help:      "Agents removed from the registry.",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
	if agentCount != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents",
			Help:      "Agents currently registered.",
		}, agentCount)
	}
	return m
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// RegistrationAccepted records a successful registration.
func (m *Metrics) RegistrationAccepted(updated bool) {
	kind := "new"
	if updated {
		kind = "update"
	}
	m.Registrations.WithLabelValues(kind).Inc()
}

// RegistrationRejected records a failed registration.
func (m *Metrics) RegistrationRejected(reason string) {
	m.RegistrationsRejected.WithLabelValues(reason).Inc()
}
