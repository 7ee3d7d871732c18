// Package metric exposes bridge counters through a private Prometheus registry.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "mqtt_bridge"

// Metrics implements bridge.Metrics and the connection hooks of the server.
type Metrics struct {
	registry *prometheus.Registry

	Connections   *prometheus.GaugeVec
	Publishes     *prometheus.CounterVec
	Deliveries    *prometheus.CounterVec
	Subscribes    *prometheus.CounterVec
	Subscriptions prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections",
				Help:      "Live MQTT connections by protocol version",
			},
			[]string{"protocol"},
		),
		Publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "publishes_total",
				Help:      "MQTT publications by routing outcome",
			},
			[]string{"outcome"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "network",
				Name:      "deliveries_total",
				Help:      "Network samples forwarded to MQTT clients by outcome",
			},
			[]string{"outcome"},
		),
		Subscribes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mqtt",
				Name:      "subscribes_total",
				Help:      "MQTT subscription requests by outcome",
			},
			[]string{"outcome"},
		),
		Subscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "subscriptions",
				Help:      "Network subscribers declared on behalf of MQTT clients",
			},
		),
	}
	m.registry.MustRegister(
		m.Connections,
		m.Publishes,
		m.Deliveries,
		m.Subscribes,
		m.Subscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Published(outcome string) {
	m.Publishes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Delivered(outcome string) {
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Subscribed(outcome string) {
	m.Subscribes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubscriptionsChanged(delta int) {
	m.Subscriptions.Add(float64(delta))
}

func (m *Metrics) ConnectionOpened(protocol string) {
	m.Connections.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnectionClosed(protocol string) {
	m.Connections.WithLabelValues(protocol).Dec()
}
