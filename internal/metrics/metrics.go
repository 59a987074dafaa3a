// Package metrics registers the proxy's Prometheus collectors on a private
// registry so the notifier can expose them without touching the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsAccepted prometheus.Counter
	SessionsActive   prometheus.Gauge
	Queries          *prometheus.CounterVec
	Substitutions    prometheus.Counter
	FramingErrors    prometheus.Counter
	BackendFailures  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfw_sessions_accepted_total",
			Help: "Client connections accepted by the proxy",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dbfw_sessions_active",
			Help: "Sessions currently being pumped",
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbfw_queries_total",
			Help: "Query messages evaluated, by verdict",
		}, []string{"verdict"}),
		Substitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfw_substituted_responses_total",
			Help: "Responses fabricated by the honeypot responder",
		}),
		FramingErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfw_framing_errors_total",
			Help: "Sessions terminated on protocol framing violations",
		}),
		BackendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dbfw_backend_failures_total",
			Help: "Backend connections that could not be established",
		}),
	}
	m.registry.MustRegister(
		m.SessionsAccepted,
		m.SessionsActive,
		m.Queries,
		m.Substitutions,
		m.FramingErrors,
		m.BackendFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
