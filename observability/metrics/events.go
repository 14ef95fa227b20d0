package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics tracks delivery of sale events to stream subscribers.
type EventMetrics struct {
	dropped prometheus.Counter
}

var (
	eventsOnce     sync.Once
	eventsRegistry *EventMetrics
)

// Events returns the lazily registered event stream metrics.
func Events() *EventMetrics {
	eventsOnce.Do(func() {
		eventsRegistry = &EventMetrics{
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Events skipped because a stream subscriber lagged.",
			}),
		}
		prometheus.MustRegister(eventsRegistry.dropped)
	})
	return eventsRegistry
}

// RecordDrop counts one skipped delivery.
func (m *EventMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
