package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ResolverReadStatus is the outcome of a type hash lookup in the resolver's
// in-memory cache.
type ResolverReadStatus string

const (
	ResolverReadStatusHit       ResolverReadStatus = "hit"
	ResolverReadStatusMiss      ResolverReadStatus = "miss"
	ResolverReadStatusCoalesced ResolverReadStatus = "coalesced" // Joined another caller's in-flight fetch.
)

// AccessorMetrics instruments version resolution and decoding.
type AccessorMetrics struct {
	resolverReads  *prometheus.CounterVec
	gateOutcomes   *prometheus.CounterVec
	decodeFailures *prometheus.CounterVec
}

// NewDefaultAccessorMetrics creates Prometheus metric instrumentation for
// the resolver, the version gate and the decode dispatcher.
func NewDefaultAccessorMetrics(pkg string) AccessorMetrics {
	return AccessorMetrics{
		resolverReads: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_resolver_reads", pkg),
				Help: "How many type hash lookups occur, partitioned by cache status (hit, miss, coalesced).",
			},
			[]string{"status"}, // Labels.
		)),
		gateOutcomes: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_gate_outcomes", pkg),
				Help: "How many version matches occur, partitioned by item and outcome (present, absent, unsupported).",
			},
			[]string{"item", "outcome"}, // Labels.
		)),
		decodeFailures: registerOnce(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_decode_failures", pkg),
				Help: "How many values failed to decode, partitioned by item and decoder.",
			},
			[]string{"item", "decoder"}, // Labels.
		)),
	}
}

// ResolverReads returns the counter for resolver lookups with the given status.
func (m *AccessorMetrics) ResolverReads(status ResolverReadStatus) prometheus.Counter {
	return m.resolverReads.WithLabelValues(string(status))
}

// GateOutcomes returns the counter for version matches of `item` with the given outcome.
func (m *AccessorMetrics) GateOutcomes(item string, outcome string) prometheus.Counter {
	return m.gateOutcomes.WithLabelValues(item, outcome)
}

// DecodeFailures returns the counter for decode failures of `item` using `decoder`.
func (m *AccessorMetrics) DecodeFailures(item string, decoder string) prometheus.Counter {
	return m.decodeFailures.WithLabelValues(item, decoder)
}
