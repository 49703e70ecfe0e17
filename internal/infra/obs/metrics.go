package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "rentchat"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	connections prometheus.Gauge
	rooms       prometheus.Gauge
	relayed     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	sends       *prometheus.CounterVec
	published   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "Live realtime connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "rooms",
			Help:      "Listing rooms with at least one joined connection.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "events_relayed_total",
			Help:      "Events enqueued to a connection, by event kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "gateway",
			Name:      "events_dropped_total",
			Help:      "Events not delivered, by event kind and reason.",
		}, []string{"kind", "reason"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "messages",
			Name:      "sends_total",
			Help:      "Durable message writes, by outcome.",
		}, []string{"outcome"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox records handed to the broker, by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.relayed,
		m.dropped,
		m.sends,
		m.published,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) RoomsActive(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) Relayed(kind string) {
	if m != nil {
		m.relayed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Dropped(kind, reason string) {
	if m != nil {
		m.dropped.WithLabelValues(kind, reason).Inc()
	}
}

// ObserveSend counts durable write outcomes reported by the message service.
func (m *Metrics) ObserveSend(outcome string) {
	if m != nil {
		m.sends.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObservePublish(result string) {
	if m != nil {
		m.published.WithLabelValues(result).Inc()
	}
}
