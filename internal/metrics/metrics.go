// Package metrics wires the server's Prometheus instrumentation: a
// per-command counter and latency histogram, connection and replica
// gauges, and WAIT latency. None of it affects command semantics or
// offset accounting — it only observes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every exported series. Construct one with New and
// thread it through dispatch; it is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal  *prometheus.CounterVec
	commandLatency *prometheus.HistogramVec
	connections    prometheus.Gauge
	replicas       prometheus.Gauge
	waitLatency    prometheus.Histogram
}

// New registers and returns a fresh metrics set on its own registry, so
// a disabled --metrics-addr never pollutes the default global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "respkv",
			Name:      "commands_total",
			Help:      "Commands processed, by name.",
		}, []string{"command"}),
		commandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "respkv",
			Name:      "command_duration_seconds",
			Help:      "Command execution latency, by name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respkv",
			Name:      "connections_open",
			Help:      "Currently open client connections.",
		}),
		replicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "respkv",
			Name:      "replicas_connected",
			Help:      "Currently connected replicas (primary only).",
		}),
		waitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "respkv",
			Name:      "wait_duration_seconds",
			Help:      "Time spent blocked inside WAIT.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.commandsTotal, m.commandLatency, m.connections, m.replicas, m.waitLatency)
	return m
}

// ObserveCommand records one dispatch of the named command.
func (m *Metrics) ObserveCommand(name string, d time.Duration) {
	m.commandsTotal.WithLabelValues(name).Inc()
	m.commandLatency.WithLabelValues(name).Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }
func (m *Metrics) SetReplicaCount(n int) { m.replicas.Set(float64(n)) }
func (m *Metrics) ObserveWait(d time.Duration) { m.waitLatency.Observe(d.Seconds()) }

// Handler serves this Metrics' registry in the Prometheus exposition
// format, mounted by the caller at --metrics-addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
