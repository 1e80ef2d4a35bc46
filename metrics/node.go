package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NodeMetrics instruments requests made to the node.
type NodeMetrics struct {
	// Counts of node requests.
	nodeRequests *prometheus.CounterVec

	// Latencies of node requests.
	nodeLatencies *prometheus.HistogramVec
}

// NewDefaultNodeMetrics creates Prometheus metric instrumentation
// for basic metrics common to node accesses. Default metrics include:
//
// 1. Counts of node requests, partitioned by method and status.
// 2. Latencies of node requests, partitioned by method.
func NewDefaultNodeMetrics(pkg string) NodeMetrics {
	return NodeMetrics{
		nodeRequests: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_node_requests", pkg),
				Help: "How many node requests occur, partitioned by method and status.",
			},
			[]string{"method", "status"}, // Labels.
		)),
		nodeLatencies: registerOnce(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_node_latencies", pkg),
				Help: "How long node requests take, partitioned by method.",
			},
			[]string{"method"}, // Labels.
		)),
	}
}

// NodeRequests returns the counter for the node request.
// The provided params are used as labels.
func (m *NodeMetrics) NodeRequests(method string, status string) prometheus.Counter {
	return m.nodeRequests.WithLabelValues(method, status)
}

// NodeLatencies returns a new latency timer for the provided node method.
func (m *NodeMetrics) NodeLatencies(method string) *prometheus.Timer {
	return prometheus.NewTimer(m.nodeLatencies.WithLabelValues(method))
}
