// Package metrics contains the prometheus infrastructure.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Registers the collector with Prometheus. If an identical collector is already
// registered, returns the existing collector, otherwise returns the provided collector.
// Panics if the collector cannot be registered.
func registerOnce[C prometheus.Collector](collector C) C {
	if err := prometheus.Register(collector); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if errors.As(err, are) {
			// Use the old collector from now on.
			return are.ExistingCollector.(C)
		}
		// Something else went wrong.
		panic(err)
	}
	return collector
}
