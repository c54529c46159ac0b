// Package metrics exposes Prometheus instrumentation for the presence and sync layers.
//
// All recording methods are safe on a nil *Metrics, so components can be
// constructed without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncalarm"

// Metrics owns a dedicated registry and the collectors registered on it
type Metrics struct {
	registry *prometheus.Registry

	connectionsOpen    prometheus.Gauge
	sessionsIdentified prometheus.Gauge
	broadcasts         *prometheus.CounterVec
	evicted            prometheus.Counter
	mutations          *prometheus.CounterVec
	protocolDropped    prometheus.Counter
}

// New creates the collectors and registers them along with the Go runtime collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Push-channel transports currently open, identified or not.",
		}),
		sessionsIdentified: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_identified",
			Help:      "Sessions that have sent IDENTIFY and are listed in presence.",
		}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Messages fanned out to all sessions, by message type.",
		}, []string{"type"}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_evicted_total",
			Help:      "Sessions dropped because their outbound queue was full.",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_mutations_total",
			Help:      "Committed alarm mutations, by operation.",
		}, []string{"op"}),
		protocolDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_messages_dropped_total",
			Help:      "Inbound push frames dropped as malformed or unauthorized.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsOpen,
		m.sessionsIdentified,
		m.broadcasts,
		m.evicted,
		m.mutations,
		m.protocolDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetPresence records the latest presence snapshot sizes
func (m *Metrics) SetPresence(connections, identified int) {
	if m == nil {
		return
	}
	m.connectionsOpen.Set(float64(connections))
	m.sessionsIdentified.Set(float64(identified))
}

// Broadcast counts one fan-out of the given message type
func (m *Metrics) Broadcast(msgType string) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(msgType).Inc()
}

// Evicted counts one slow subscriber dropped by the hub
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evicted.Inc()
}

// Mutation counts one committed alarm mutation
func (m *Metrics) Mutation(op string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op).Inc()
}

// ProtocolDropped counts one inbound frame that was ignored
func (m *Metrics) ProtocolDropped() {
	if m == nil {
		return
	}
	m.protocolDropped.Inc()
}
