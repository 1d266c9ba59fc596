// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vovakirdan/wirerelay/internal/core"
)

const namespace = "wirerelay"

// Metrics implements core.Recorder on a private Prometheus registry.
type Metrics struct {
	reg *prometheus.Registry

	sessions    prometheus.Gauge
	received    prometheus.Counter
	parseErrors prometheus.Counter
	deliveries  *prometheus.CounterVec
	bus         *prometheus.CounterVec
}

// New registers relay collectors. rooms reports registry totals at scrape time.
func New(rooms func() core.Stats) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently joined to a room.",
		}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Inbound messages read from clients.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Inbound messages dropped because they were not valid JSON.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by result.",
		}, []string{"result"}),
		bus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_total",
			Help:      "Messages exchanged with the cross-process bus.",
		}, []string{"direction"}),
	}

	m.reg.MustRegister(
		m.sessions,
		m.received,
		m.parseErrors,
		m.deliveries,
		m.bus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if rooms != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one registry entry.",
		}, func() float64 { return float64(rooms().Rooms) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) SessionOpened()   { m.sessions.Inc() }
func (m *Metrics) SessionClosed()   { m.sessions.Dec() }
func (m *Metrics) MessageReceived() { m.received.Inc() }
func (m *Metrics) ParseFailed()     { m.parseErrors.Inc() }

func (m *Metrics) Delivered(n int) {
	if n > 0 {
		m.deliveries.WithLabelValues("ok").Add(float64(n))
	}
}

func (m *Metrics) DeliveryFailed(n int) {
	if n > 0 {
		m.deliveries.WithLabelValues("failed").Add(float64(n))
	}
}

// BusPublished counts envelopes sent to the bus.
func (m *Metrics) BusPublished() { m.bus.WithLabelValues("out").Inc() }

// BusReceived counts envelopes accepted from other nodes.
func (m *Metrics) BusReceived() { m.bus.WithLabelValues("in").Inc() }

var _ core.Recorder = (*Metrics)(nil)
