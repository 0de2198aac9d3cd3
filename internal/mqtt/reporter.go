package mqtt

import (
	"log"

	"github.com/sweeney/pulse-counter/internal/counter"
	"github.com/sweeney/pulse-counter/internal/metrics"
)

// Reporter publishes the counter values and discovery configs.
// PublishAll is scheduled periodically by the caller (cron).
type Reporter struct {
	client Client
	store  *counter.Store
	prefix string
	device string
}

// NewReporter creates a reporter for the given store.
func NewReporter(client Client, store *counter.Store, prefix, device string) *Reporter {
	return &Reporter{
		client: client,
		store:  store,
		prefix: prefix,
		device: device,
	}
}

// PublishAll publishes every channel's current value on its topic.
// A failed publish is logged and tallied; the remaining channels are
// still attempted.
func (r *Reporter) PublishAll() {
	values, names := r.store.Snapshot()

	for i, v := range values {
		topic := CounterTopic(r.prefix, names[i])
		if err := r.client.Publish(topic, FormatCounter(v), false); err != nil {
			log.Printf("mqtt: publish channel %d: %v", i, err)
			metrics.PublishErrors.Inc()
		}
	}
}

// PublishDiscovery publishes the retained Home Assistant discovery
// config for every channel.
func (r *Reporter) PublishDiscovery() {
	for _, name := range r.store.Names() {
		payload, err := FormatDiscovery(r.prefix, r.device, name)
		if err != nil {
			log.Printf("mqtt: format discovery for %q: %v", name, err)
			continue
		}
		if err := r.client.Publish(DiscoveryTopic(r.device, name), payload, true); err != nil {
			log.Printf("mqtt: publish discovery for %q: %v", name, err)
			metrics.PublishErrors.Inc()
		}
	}
}

// PublishStatus announces the device state on the status topic.
func (r *Reporter) PublishStatus(state string) {
	if err := r.client.Publish(StatusTopic(r.prefix), []byte(state), false); err != nil {
		log.Printf("mqtt: publish status: %v", err)
		metrics.PublishErrors.Inc()
	}
}
