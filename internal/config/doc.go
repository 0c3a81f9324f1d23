// Package config defines the engine configuration and its YAML file format.
//
// Configuration is layered: Default() supplies working values for every
// setting, Load() overlays a YAML file on top, and CLI flags may override
// individual fields after loading. A missing config file is not an error.
//
// # Example
//
//	discovery:
//	  port: 4992
//	  ttl: 15s
//	  sweep_interval: 2s
//	  mdns: true
//	session:
//	  command_timeout: 5s
//	  keepalive_interval: 30s
//
// Durations use Go's duration syntax ("5s", "1m30s").
package config
