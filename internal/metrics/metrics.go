// Package metrics defines the daemon's prometheus collectors. They are
// best-effort diagnostics: nothing in the counting path depends on them.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EdgeEvents counts raw rising edges delivered by the GPIO layer,
	// before debounce. Not crash-safe, resets with the process.
	EdgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_edge_events_total",
		Help: "Raw rising-edge events seen per channel, before debounce.",
	}, []string{"channel"})

	// EdgeDrops counts edges dropped because the edge queue was full.
	EdgeDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_edge_drops_total",
		Help: "Edge events dropped at the queue between GPIO and engine.",
	})

	// Confirmed counts edges confirmed as pulses at verification.
	Confirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_confirmed_total",
		Help: "Edges confirmed as pulses per channel.",
	}, []string{"channel"})

	// Rejected counts edges rejected at verification.
	Rejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_rejected_total",
		Help: "Edges rejected at verification per channel.",
	}, []string{"channel"})

	// NotifyDrops counts confirmed-pulse notifications dropped because
	// the observer queue was full. Counting is unaffected.
	NotifyDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_notify_drops_total",
		Help: "Confirmed-pulse notifications dropped (observer queue full).",
	})

	// PersistWrites counts successful counter write-throughs.
	PersistWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_persist_writes_total",
		Help: "Successful counter writes to the key-value store.",
	})

	// PersistErrors counts failed counter write-throughs.
	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_persist_errors_total",
		Help: "Failed counter writes to the key-value store.",
	})

	// PublishErrors counts failed MQTT publishes.
	PublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_mqtt_publish_errors_total",
		Help: "Failed MQTT publishes.",
	})
)

// Channel returns the metric label for a channel index.
func Channel(index int) string {
	return strconv.Itoa(index)
}
