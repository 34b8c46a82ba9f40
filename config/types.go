package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

//go:generate sh -c "cd .. && go run ./tools/schema-generator/"

// Config is the root configuration loaded from cosync.yml or cosync.toml.
type Config struct {
	Version string `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty"`

	// Sync holds the tunables of the synchronization engine.
	Sync SyncConfig `yaml:"sync" toml:"sync" json:"sync"`

	// Ignore lists path patterns that are never shared with peers.
	// Patterns use the .dockerignore syntax.
	Ignore []string `yaml:"ignore,omitempty" toml:"ignore,omitempty" json:"ignore,omitempty"`

	// Extensions holds configuration sections for tools layered on top of
	// the engine (e.g. "logging"). Decoded on demand via UnmarshalExtension.
	Extensions map[string]interface{} `yaml:"extensions,omitempty" toml:"extensions,omitempty" json:"extensions,omitempty"`
}

// SyncConfig configures the synchronization engine.
type SyncConfig struct {
	// Port is the UDP multicast port. Hot-reloadable: changing it while
	// connected forces a full reconnect on the new port.
	Port int `yaml:"port" toml:"port" json:"port"`

	// DebounceMs is the settle delay for rapid events on one file.
	DebounceMs int `yaml:"debounce_ms,omitempty" toml:"debounce_ms,omitempty" json:"debounce_ms,omitempty"`

	// QueueCapacity bounds the outbound operation queue. Oldest entries are
	// evicted on overflow.
	QueueCapacity int `yaml:"queue_capacity,omitempty" toml:"queue_capacity,omitempty" json:"queue_capacity,omitempty"`

	// MessageTimeoutMs rejects inbound messages older than this.
	MessageTimeoutMs int `yaml:"message_timeout_ms,omitempty" toml:"message_timeout_ms,omitempty" json:"message_timeout_ms,omitempty"`

	// ReconnectDelayMs is the pause before a reconnect attempt.
	ReconnectDelayMs int `yaml:"reconnect_delay_ms,omitempty" toml:"reconnect_delay_ms,omitempty" json:"reconnect_delay_ms,omitempty"`

	// Source tags outgoing messages with the host integration name.
	Source string `yaml:"source,omitempty" toml:"source,omitempty" json:"source,omitempty"`
}

// Defaults for every sync tunable. These match the protocol constants the
// other peers on the wire assume, so overriding them is rarely needed.
const (
	DefaultPort             = 3000
	DefaultDebounceMs       = 300
	DefaultQueueCapacity    = 100
	DefaultMessageTimeoutMs = 5000
	DefaultReconnectDelayMs = 5000
)

// Default returns a Config populated with the default tunables.
func Default() *Config {
	return &Config{
		Version: "1.0",
		Sync: SyncConfig{
			Port:             DefaultPort,
			DebounceMs:       DefaultDebounceMs,
			QueueCapacity:    DefaultQueueCapacity,
			MessageTimeoutMs: DefaultMessageTimeoutMs,
			ReconnectDelayMs: DefaultReconnectDelayMs,
		},
		Ignore: []string{".git/**"},
	}
}

// ApplyDefaults fills zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Sync.Port == 0 {
		c.Sync.Port = DefaultPort
	}
	if c.Sync.DebounceMs == 0 {
		c.Sync.DebounceMs = DefaultDebounceMs
	}
	if c.Sync.QueueCapacity == 0 {
		c.Sync.QueueCapacity = DefaultQueueCapacity
	}
	if c.Sync.MessageTimeoutMs == 0 {
		c.Sync.MessageTimeoutMs = DefaultMessageTimeoutMs
	}
	if c.Sync.ReconnectDelayMs == 0 {
		c.Sync.ReconnectDelayMs = DefaultReconnectDelayMs
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Sync.Port < 1 || c.Sync.Port > 65535 {
		return fmt.Errorf("sync.port must be between 1 and 65535, got %d", c.Sync.Port)
	}
	if c.Sync.QueueCapacity < 1 {
		return fmt.Errorf("sync.queue_capacity must be positive, got %d", c.Sync.QueueCapacity)
	}
	if c.Sync.DebounceMs < 0 {
		return fmt.Errorf("sync.debounce_ms must not be negative, got %d", c.Sync.DebounceMs)
	}
	return nil
}

// Debounce returns the debounce delay as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Sync.DebounceMs) * time.Millisecond
}

// MessageTimeout returns the inbound staleness cutoff as a duration.
func (c *Config) MessageTimeout() time.Duration {
	return time.Duration(c.Sync.MessageTimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the reconnect pause as a duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Sync.ReconnectDelayMs) * time.Millisecond
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded cosync.yml into the provided target struct. The target must be a
// pointer. This provides a type-safe way for extensions to access their
// custom configuration sections.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// It's not an error if the key doesn't exist.
		// The target struct will simply remain zero-valued.
		return nil
	}

	// Use mapstructure to decode the generic map[string]interface{}
	// into the strongly-typed target struct. We configure it to use
	// `yaml` tags for consistency.
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "yaml",
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
