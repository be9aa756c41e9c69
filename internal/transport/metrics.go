package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports transport counters to Prometheus. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	bytesSent        prometheus.Counter
	bytesReceived    prometheus.Counter
	messagesSent     prometheus.Counter
	messagesReceived prometheus.Counter
	connections      prometheus.Gauge
	failures         *prometheus.CounterVec
}

// NewMetrics registers the transport collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gamenet"
	}
	factory := promauto.With(reg)

	return &Metrics{
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to sockets, headers included.",
		}),
		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_received_total",
			Help:      "Frame bytes read from sockets, headers included.",
		}),
		messagesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_sent_total",
			Help:      "Frames written.",
		}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "messages_received_total",
			Help:      "Frames fully received.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "open_links",
			Help:      "Sockets currently owned by a running link.",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "failures_total",
			Help:      "Socket failures by phase.",
		}, []string{"phase"}),
	}
}

func (m *Metrics) sent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(n))
	m.messagesSent.Inc()
}

func (m *Metrics) received(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
	m.messagesReceived.Inc()
}

func (m *Metrics) linkOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) linkClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Failure counts a failure in phase.
func (m *Metrics) Failure(phase Phase) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(phase)).Inc()
}
