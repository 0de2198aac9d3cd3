// Package config loads the daemon configuration from a YAML file.
// Missing files fall back to defaults so a bare device still boots.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the daemon configuration.
type Config struct {
	// Device is the device name, used in MQTT identifiers.
	Device string `yaml:"device"`

	// Pins lists the GPIO line offsets, one per counting channel.
	// The slice length defines the number of channels.
	Pins []int `yaml:"pins"`

	// DebounceMs is the verification delay after a rising edge.
	// Electrical pulse sources work with a few ms; mechanical
	// contacts typically need tens of ms.
	DebounceMs int64 `yaml:"debounce_ms"`

	// SaveThreshold is the number of uncommitted increments that
	// triggers a flush of a counter to the store.
	SaveThreshold uint32 `yaml:"save_threshold"`

	// PersistIntervalMs is the period of the persistence check task.
	PersistIntervalMs int64 `yaml:"persist_interval_ms"`

	// PublishPeriodMs is the period of the MQTT counter publish.
	PublishPeriodMs int64 `yaml:"publish_period_ms"`

	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`

	HTTPAddr string `yaml:"http_addr"`
	DBPath   string `yaml:"db_path"`

	// EdgeQueue is the capacity of the edge event queue between the
	// GPIO event handler and the verification engine.
	EdgeQueue int `yaml:"edge_queue"`

	// NotifyQueue is the capacity of the confirmed-pulse
	// notification channel.
	NotifyQueue int `yaml:"notify_queue"`
}

// Default returns the configuration matching the stock meter wiring.
func Default() *Config {
	return &Config{
		Device:            "pulse-counter",
		Pins:              []int{18, 19, 23, 21, 22},
		DebounceMs:        20,
		SaveThreshold:     100,
		PersistIntervalMs: 500,
		PublishPeriodMs:   5 * 60 * 1000,
		Broker:            "tcp://192.168.1.200:1883",
		TopicPrefix:       "energy",
		HTTPAddr:          ":8080",
		DBPath:            "/var/lib/pulse-counter/counters.db",
		EdgeQueue:         64,
		NotifyQueue:       32,
	}
}

// Load reads the configuration from path. A missing file is not an
// error: defaults are returned so first boot works without any setup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if len(c.Pins) == 0 {
		return fmt.Errorf("config: no pins configured")
	}
	seen := make(map[int]bool, len(c.Pins))
	for _, p := range c.Pins {
		if p < 0 {
			return fmt.Errorf("config: invalid pin %d", p)
		}
		if seen[p] {
			return fmt.Errorf("config: duplicate pin %d", p)
		}
		seen[p] = true
	}
	if c.DebounceMs <= 0 {
		return fmt.Errorf("config: debounce_ms must be positive")
	}
	if c.SaveThreshold == 0 {
		return fmt.Errorf("config: save_threshold must be positive")
	}
	if c.PersistIntervalMs <= 0 {
		return fmt.Errorf("config: persist_interval_ms must be positive")
	}
	if c.PublishPeriodMs <= 0 {
		return fmt.Errorf("config: publish_period_ms must be positive")
	}
	if c.EdgeQueue <= 0 {
		return fmt.Errorf("config: edge_queue must be positive")
	}
	if c.NotifyQueue <= 0 {
		return fmt.Errorf("config: notify_queue must be positive")
	}
	return nil
}

// Channels returns the number of counting channels.
func (c *Config) Channels() int { return len(c.Pins) }

// Debounce returns the debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// PersistInterval returns the persistence check period as a duration.
func (c *Config) PersistInterval() time.Duration {
	return time.Duration(c.PersistIntervalMs) * time.Millisecond
}

// PublishPeriod returns the MQTT publish period as a duration.
func (c *Config) PublishPeriod() time.Duration {
	return time.Duration(c.PublishPeriodMs) * time.Millisecond
}
