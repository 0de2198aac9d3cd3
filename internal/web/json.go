package web

import (
	"encoding/json"
	"time"
)

// View is the portal's read model: one consistent snapshot of the
// counters and daemon state, shared by the HTML and JSON renderers.
type View struct {
	Device        string
	Channels      []ChannelView
	MQTTEnabled   bool
	MQTTConnected bool
	StartTime     time.Time
	Now           time.Time
	Config        ConfigView
}

// ChannelView is one channel row.
type ChannelView struct {
	Index int
	Name  string
	Pin   int
	Count uint32
}

// ConfigView is the subset of the configuration shown on the portal.
type ConfigView struct {
	DebounceMs        int64
	SaveThreshold     uint32
	PersistIntervalMs int64
	PublishPeriodMs   int64
	Broker            string
	TopicPrefix       string
	HTTPAddr          string
}

// Uptime returns how long the daemon has been running.
func (v View) Uptime() time.Duration {
	return v.Now.Sub(v.StartTime)
}

func (s *Server) view() View {
	values, names := s.store.Snapshot()

	channels := make([]ChannelView, len(values))
	for i := range values {
		pin := -1
		if i < len(s.cfg.Pins) {
			pin = s.cfg.Pins[i]
		}
		channels[i] = ChannelView{
			Index: i,
			Name:  names[i],
			Pin:   pin,
			Count: values[i],
		}
	}

	v := View{
		Device:    s.cfg.Device,
		Channels:  channels,
		StartTime: s.start,
		Now:       time.Now(),
		Config: ConfigView{
			DebounceMs:        s.cfg.DebounceMs,
			SaveThreshold:     s.cfg.SaveThreshold,
			PersistIntervalMs: s.cfg.PersistIntervalMs,
			PublishPeriodMs:   s.cfg.PublishPeriodMs,
			Broker:            s.cfg.Broker,
			TopicPrefix:       s.cfg.TopicPrefix,
			HTTPAddr:          s.cfg.HTTPAddr,
		},
	}
	if s.connected != nil {
		v.MQTTEnabled = true
		v.MQTTConnected = s.connected()
	}
	return v
}

// IndexJSON is the JSON representation of the portal state.
type IndexJSON struct {
	Device        string        `json:"device"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTJSON      `json:"mqtt"`
	Channels      []ChannelJSON `json:"channels"`
	Config        ConfigJSON    `json:"config"`
}

// MQTTJSON reports MQTT state.
type MQTTJSON struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ChannelJSON is the JSON representation of one channel.
type ChannelJSON struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Pin   int    `json:"pin"`
	Count uint32 `json:"count"`
}

// ConfigJSON is the JSON representation of the daemon config.
type ConfigJSON struct {
	DebounceMs        int64  `json:"debounce_ms"`
	SaveThreshold     uint32 `json:"save_threshold"`
	PersistIntervalMs int64  `json:"persist_interval_ms"`
	PublishPeriodMs   int64  `json:"publish_period_ms"`
	TopicPrefix       string `json:"topic_prefix"`
	HTTPAddr          string `json:"http_addr"`
}

func formatJSON(v View) []byte {
	channels := make([]ChannelJSON, len(v.Channels))
	for i, c := range v.Channels {
		channels[i] = ChannelJSON{
			Index: c.Index,
			Name:  c.Name,
			Pin:   c.Pin,
			Count: c.Count,
		}
	}

	ij := IndexJSON{
		Device:        v.Device,
		UptimeSeconds: int64(v.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     v.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     v.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTJSON{
			Enabled:   v.MQTTEnabled,
			Connected: v.MQTTConnected,
			Broker:    v.Config.Broker,
		},
		Channels: channels,
		Config: ConfigJSON{
			DebounceMs:        v.Config.DebounceMs,
			SaveThreshold:     v.Config.SaveThreshold,
			PersistIntervalMs: v.Config.PersistIntervalMs,
			PublishPeriodMs:   v.Config.PublishPeriodMs,
			TopicPrefix:       v.Config.TopicPrefix,
			HTTPAddr:          v.Config.HTTPAddr,
		},
	}

	data, _ := json.MarshalIndent(ij, "", "  ")
	return data
}
