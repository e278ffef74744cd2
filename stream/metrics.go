package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/collarkit/metric"
)

// Metrics holds Prometheus metrics for the streaming session
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionActive  prometheus.Gauge
	reconnectAttempts prometheus.Counter
	framesReceived    *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	payloadsDropped   *prometheus.CounterVec
	heartbeatsSent    prometheus.Counter
	queueDepth        prometheus.Gauge
	errorsTotal       *prometheus.CounterVec
}

// newMetrics creates and registers session metrics. A nil registry
// disables metrics collection.
func newMetrics(registry *metric.Registry, componentName string) *Metrics {
	if registry == nil {
		return nil
	}

	metrics := &Metrics{
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "connections_total",
			Help:      "Total websocket connections established",
		}),

		connectionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "connection_active",
			Help:      "Whether a websocket connection is currently open",
		}),

		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total reconnection attempts",
		}),

		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "frames_received_total",
			Help:      "Total transport frames received by frame type",
		}, []string{"component", "type"}),

		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "messages_received_total",
			Help:      "Total MESSAGE frames received by destination",
		}, []string{"component", "destination"}),

		payloadsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "payloads_dropped_total",
			Help:      "Total payloads dropped by reason",
		}, []string{"component", "reason"}),

		heartbeatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "heartbeats_sent_total",
			Help:      "Total client heartbeats sent",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "queue_depth",
			Help:      "Current dispatch queue depth",
		}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "collarkit",
			Subsystem: "stream",
			Name:      "errors_total",
			Help:      "Total errors by type",
		}, []string{"component", "type"}),
	}

	registry.MustRegister(componentName, map[string]prometheus.Collector{
		"connections_total":  metrics.connectionsTotal,
		"connection_active":  metrics.connectionActive,
		"reconnect_attempts": metrics.reconnectAttempts,
		"frames_received":    metrics.framesReceived,
		"messages_received":  metrics.messagesReceived,
		"payloads_dropped":   metrics.payloadsDropped,
		"heartbeats_sent":    metrics.heartbeatsSent,
		"queue_depth":        metrics.queueDepth,
		"errors_total":       metrics.errorsTotal,
	})

	return metrics
}
