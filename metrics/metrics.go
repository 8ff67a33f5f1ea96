// Package metrics defines the broker's prometheus instrumentation.
// The admin API exposes the collected series at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values shared by the counters below.
const (
	ResultOK        = "ok"
	ResultDuplicate = "duplicate"
	ResultExhausted = "exhausted"
	ResultUnknown   = "unknown"
	ResultNotReady  = "not_ready"
	ResultDialError = "dial_error"
	ResultError     = "error"
)

// Metrics holds every collector the broker updates. All fields are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	Registrations *prometheus.CounterVec
	Heartbeats    *prometheus.CounterVec
	Services      prometheus.Gauge
	Evictions     prometheus.Counter
	ProxySessions *prometheus.CounterVec
	ActiveProxies prometheus.Gauge
	DNSQueries    *prometheus.CounterVec
}

// New creates a Metrics set backed by its own prometheus registry,
// pre-seeded with the standard Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsel_registrations_total",
			Help: "Registration requests by result.",
		}, []string{"result"}),
		Heartbeats: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsel_heartbeats_total",
			Help: "Heartbeat requests by result.",
		}, []string{"result"}),
		Services: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsel_services",
			Help: "Currently registered services.",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "netsel_evictions_total",
			Help: "Services removed by the liveness sweeper.",
		}),
		ProxySessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsel_proxy_sessions_total",
			Help: "Proxy dispatch attempts by result.",
		}, []string{"result"}),
		ActiveProxies: factory.NewGauge(prometheus.GaugeOpts{
			Name: "netsel_proxy_active_sessions",
			Help: "Proxied sessions currently relaying bytes.",
		}),
		DNSQueries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "netsel_dns_queries_total",
			Help: "DNS queries by result.",
		}, []string{"result"}),
	}
}

// Gatherer exposes the underlying registry for the /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
