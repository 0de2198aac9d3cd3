// Package mqtt provides the remote observer and command paths:
// periodic counter publishing, Home Assistant discovery and the
// set/read/reset command interface, with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Client is the transport used by the reporter and commander.
type Client interface {
	// Publish sends a payload to a topic (QoS 1).
	Publish(topic string, payload []byte, retained bool) error

	// Subscribe registers a handler for a topic (QoS 1).
	Subscribe(topic string, handler func(payload []byte)) error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// CounterTopic returns the publish topic for a channel's value.
func CounterTopic(prefix, name string) string {
	return prefix + "/" + name
}

// StatusTopic returns the device status topic.
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// Command topic suffixes under "<prefix>/cmd/".
const (
	CmdSet   = "set"
	CmdRead  = "read"
	CmdReset = "reset"
)

// CommandTopic returns the subscription topic for a command.
func CommandTopic(prefix, cmd string) string {
	return prefix + "/cmd/" + cmd
}

// ReplyTopic returns the topic read results are published on.
func ReplyTopic(prefix string) string {
	return prefix + "/reply"
}

// DiscoveryTopic returns the Home Assistant discovery topic for a channel.
func DiscoveryTopic(device, name string) string {
	return fmt.Sprintf("homeassistant/sensor/%s/%s/config", device, name)
}

// FormatCounter renders a counter value the way the meters always
// published it: the bare decimal count.
func FormatCounter(value uint32) []byte {
	return []byte(strconv.FormatUint(uint64(value), 10))
}

// DiscoveryPayload is the Home Assistant MQTT discovery config for one
// channel's energy sensor.
type DiscoveryPayload struct {
	Name              string          `json:"name"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement"`
	DeviceClass       string          `json:"device_class"`
	StateClass        string          `json:"state_class"`
	UniqueID          string          `json:"unique_id"`
	Device            DiscoveryDevice `json:"device"`
}

// DiscoveryDevice groups the channel sensors under one device entry.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// FormatDiscovery creates the discovery payload for a channel.
func FormatDiscovery(prefix, device, name string) ([]byte, error) {
	id := device + "_" + name
	payload := DiscoveryPayload{
		Name:              name,
		StateTopic:        CounterTopic(prefix, name),
		UnitOfMeasurement: "Wh",
		DeviceClass:       "energy",
		StateClass:        "total_increasing",
		UniqueID:          id,
		Device: DiscoveryDevice{
			Identifiers:  []string{id},
			Name:         device + " " + name,
			Manufacturer: "DIY",
			Model:        "Pulse Counter",
		},
	}
	return json.Marshal(payload)
}
