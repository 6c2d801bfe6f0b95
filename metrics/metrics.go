// Package metrics holds the Prometheus collectors exported by the gateway.
//
// All collectors are registered on a private registry so multiple instances
// can coexist in tests. Every method is safe to call on a nil *Metrics, which
// lets components run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "snmpgateway"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeEmpty   = "empty"
)

// Metrics holds all the Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	Requests         *prometheus.CounterVec
	PollTicks        *prometheus.CounterVec
	TrapsReceived    prometheus.Counter
	TrapErrors       *prometheus.CounterVec
	ForwardErrors    prometheus.Counter
	TrapSubscribers  prometheus.Gauge
	SessionsOpen     prometheus.Gauge
	SubscriberDrops  prometheus.Counter
	ForwardedRecords prometheus.Counter
}

// New creates a Metrics instance registered on its own registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of on-demand SNMP requests by operation and outcome",
		}, []string{"operation", "outcome"}),
		PollTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Total number of poll ticks by query type and outcome",
		}, []string{"type", "outcome"}),
		TrapsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traps_received_total",
			Help:      "Total number of traps decoded and recorded",
		}),
		TrapErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trap_errors_total",
			Help:      "Total number of discarded trap packets by reason",
		}, []string{"reason"}),
		ForwardErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_errors_total",
			Help:      "Total number of trap records that failed to publish",
		}),
		ForwardedRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwarded_total",
			Help:      "Total number of trap records published",
		}),
		TrapSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "trap_subscribers",
			Help:      "Number of live trap subscribers",
		}),
		SubscriberDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trap_subscriber_drops_total",
			Help:      "Total number of trap records dropped for slow subscribers",
		}),
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of SNMP sessions currently open",
		}),
	}
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest counts an on-demand request.
func (m *Metrics) ObserveRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
}

// ObservePollTick counts a completed poll tick.
func (m *Metrics) ObservePollTick(queryType, outcome string) {
	if m == nil {
		return
	}
	m.PollTicks.WithLabelValues(queryType, outcome).Inc()
}

// IncTrapsReceived counts a recorded trap.
func (m *Metrics) IncTrapsReceived() {
	if m == nil {
		return
	}
	m.TrapsReceived.Inc()
}

// IncTrapErrors counts a discarded trap packet.
func (m *Metrics) IncTrapErrors(reason string) {
	if m == nil {
		return
	}
	m.TrapErrors.WithLabelValues(reason).Inc()
}

// IncSubscriberDrops counts a record a slow subscriber missed.
func (m *Metrics) IncSubscriberDrops() {
	if m == nil {
		return
	}
	m.SubscriberDrops.Inc()
}

// SetTrapSubscribers sets the live subscriber gauge.
func (m *Metrics) SetTrapSubscribers(n int) {
	if m == nil {
		return
	}
	m.TrapSubscribers.Set(float64(n))
}

// IncForwarded counts a published trap record.
func (m *Metrics) IncForwarded() {
	if m == nil {
		return
	}
	m.ForwardedRecords.Inc()
}

// IncForwardErrors counts a failed publish.
func (m *Metrics) IncForwardErrors() {
	if m == nil {
		return
	}
	m.ForwardErrors.Inc()
}

// SessionOpened increments the open sessions gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

// SessionClosed decrements the open sessions gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}
