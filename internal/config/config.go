package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Protocol port defaults. Discovery broadcasts and the TCP command session
// share the same well-known port number on different transports.
const (
	// DefaultDiscoveryPort is the UDP port radios broadcast announcements on.
	DefaultDiscoveryPort = 4992

	// DefaultCommandPort is the TCP port for the command/response session.
	DefaultCommandPort = 4992

	// DefaultStreamPort is the UDP port binary sample streams are delivered on.
	DefaultStreamPort = 4993
)

// Config holds all tunable engine settings. The zero value is not usable;
// start from Default() and override from a YAML file or flags.
type Config struct {
	// Discovery settings
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Session settings
	Session SessionConfig `yaml:"session"`

	// Stream settings
	Stream StreamConfig `yaml:"stream"`
}

// DiscoveryConfig controls the UDP broadcast listener and the staleness sweep.
type DiscoveryConfig struct {
	// Port is the UDP port to listen for broadcast announcements on.
	Port int `yaml:"port"`

	// TTL is how long a descriptor stays in the table without a refresh.
	// Must exceed the radios' broadcast interval so one or two missed
	// beacons do not evict a live radio.
	TTL Duration `yaml:"ttl"`

	// SweepInterval is how often the eviction sweep runs.
	SweepInterval Duration `yaml:"sweep_interval"`

	// EventBuffer is the capacity of the discovery event channel. When the
	// consumer falls behind, the oldest event is dropped rather than
	// blocking the receive loop.
	EventBuffer int `yaml:"event_buffer"`

	// MDNS enables the secondary zeroconf scanner. Radios found via mDNS
	// are folded into the same descriptor table as broadcast announcements.
	MDNS bool `yaml:"mdns"`
}

// SessionConfig controls the TCP command session.
type SessionConfig struct {
	// Port is the TCP port of the radio's command endpoint.
	Port int `yaml:"port"`

	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// CommandTimeout is the default per-command response deadline.
	CommandTimeout Duration `yaml:"command_timeout"`

	// KeepaliveInterval is how often an idle session issues a ping command.
	// Zero disables keepalives.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`
}

// StreamConfig controls binary stream subscriptions.
type StreamConfig struct {
	// Port is the local UDP port streams are received on. Zero picks an
	// ephemeral port per subscription.
	Port int `yaml:"port"`

	// ReadBuffer is the UDP socket receive buffer size in bytes.
	ReadBuffer int `yaml:"read_buffer"`
}

// Default returns the engine configuration used when no file is present.
func Default() *Config {
	return &Config{
		Discovery: DiscoveryConfig{
			Port:          DefaultDiscoveryPort,
			TTL:           Duration(15 * time.Second),
			SweepInterval: Duration(2 * time.Second),
			EventBuffer:   64,
			MDNS:          false,
		},
		Session: SessionConfig{
			Port:              DefaultCommandPort,
			ConnectTimeout:    Duration(5 * time.Second),
			CommandTimeout:    Duration(5 * time.Second),
			KeepaliveInterval: 0,
		},
		Stream: StreamConfig{
			Port:       0,
			ReadBuffer: 1 << 20,
		},
	}
}

// Load reads a YAML configuration file and overlays it on the defaults.
// A missing file is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks invariants the engine depends on.
func (c *Config) Validate() error {
	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery port %d out of range", c.Discovery.Port)
	}
	if c.Session.Port <= 0 || c.Session.Port > 65535 {
		return fmt.Errorf("session port %d out of range", c.Session.Port)
	}
	if c.Discovery.TTL <= 0 {
		return fmt.Errorf("discovery ttl must be positive, got %v", c.Discovery.TTL)
	}
	if c.Discovery.SweepInterval <= 0 {
		return fmt.Errorf("discovery sweep_interval must be positive, got %v", c.Discovery.SweepInterval)
	}
	if c.Discovery.TTL <= c.Discovery.SweepInterval {
		return fmt.Errorf("discovery ttl (%v) must exceed sweep_interval (%v)",
			c.Discovery.TTL, c.Discovery.SweepInterval)
	}
	if c.Discovery.EventBuffer <= 0 {
		return fmt.Errorf("discovery event_buffer must be positive, got %d", c.Discovery.EventBuffer)
	}
	if c.Session.CommandTimeout <= 0 {
		return fmt.Errorf("session command_timeout must be positive, got %v", c.Session.CommandTimeout)
	}
	if c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session connect_timeout must be positive, got %v", c.Session.ConnectTimeout)
	}
	return nil
}
