package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flexlink.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discovery.Port != DefaultDiscoveryPort {
		t.Errorf("discovery port = %d, want default %d", cfg.Discovery.Port, DefaultDiscoveryPort)
	}
}

func TestLoad_OverlaysOnDefaults(t *testing.T) {
	path := writeConfig(t, `
discovery:
  ttl: 30
  mdns: true
session:
  command_timeout: 2500ms
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Bare integers are seconds; strings use Go duration syntax
	if got := cfg.Discovery.TTL.Std(); got != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", got)
	}
	if got := cfg.Session.CommandTimeout.Std(); got != 2500*time.Millisecond {
		t.Errorf("command_timeout = %v, want 2.5s", got)
	}
	if !cfg.Discovery.MDNS {
		t.Error("mdns not enabled")
	}

	// Unset fields keep their defaults
	if cfg.Session.Port != DefaultCommandPort {
		t.Errorf("session port = %d, want default", cfg.Session.Port)
	}
	if cfg.Discovery.SweepInterval.Std() != 2*time.Second {
		t.Errorf("sweep_interval = %v, want default 2s", cfg.Discovery.SweepInterval)
	}
}

func TestLoad_RejectsInvalidDuration(t *testing.T) {
	path := writeConfig(t, "discovery:\n  ttl: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted an unparseable duration")
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "discovery: [not a map\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted broken YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"discovery port zero", func(c *Config) { c.Discovery.Port = 0 }},
		{"discovery port too high", func(c *Config) { c.Discovery.Port = 70000 }},
		{"session port zero", func(c *Config) { c.Session.Port = 0 }},
		{"negative ttl", func(c *Config) { c.Discovery.TTL = Duration(-time.Second) }},
		{"zero sweep interval", func(c *Config) { c.Discovery.SweepInterval = 0 }},
		{"ttl not above sweep", func(c *Config) {
			c.Discovery.TTL = Duration(time.Second)
			c.Discovery.SweepInterval = Duration(time.Second)
		}},
		{"zero event buffer", func(c *Config) { c.Discovery.EventBuffer = 0 }},
		{"zero command timeout", func(c *Config) { c.Session.CommandTimeout = 0 }},
		{"zero connect timeout", func(c *Config) { c.Session.ConnectTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted an invalid config")
			}
		})
	}
}
