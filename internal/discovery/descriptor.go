package discovery

import (
	"fmt"
	"strconv"
	"time"

	"github.com/sdrkit/flexlink/internal/config"
)

// StatusAvailable is the announcement status of a radio accepting connections.
// Radios already claimed by another client announce "In_Use".
const StatusAvailable = "Available"

// Descriptor describes a reachable radio, learned from a periodic broadcast
// announcement. It is ephemeral discovery-layer state: replaced wholesale on
// every announcement for the same serial, evicted when announcements stop.
// It is not a live connection.
type Descriptor struct {
	// Serial is the radio's serial number and its identity in the table
	Serial string

	// Model is the hardware model string (e.g., "FLEX-6500")
	Model string

	// IP is the radio's IPv4 address
	IP string

	// Port is the TCP command port announced by the radio
	Port int

	// Nickname is the owner-assigned station name, if announced
	Nickname string

	// Version is the firmware version string, if announced
	Version string

	// Status is the announced availability ("Available", "In_Use", ...)
	Status string

	// Attrs preserves every announcement token, including keys this
	// package does not interpret
	Attrs map[string]string

	// LastSeen is when the most recent announcement arrived
	LastSeen time.Time
}

// newDescriptor builds a descriptor from parsed announcement tokens.
// The caller guarantees the required keys are present.
func newDescriptor(attrs map[string]string, seen time.Time) Descriptor {
	d := Descriptor{
		Serial:   attrs["serial"],
		Model:    attrs["model"],
		IP:       attrs["ip"],
		Port:     config.DefaultCommandPort,
		Nickname: attrs["nickname"],
		Version:  attrs["version"],
		Status:   attrs["status"],
		Attrs:    attrs,
		LastSeen: seen,
	}
	if p, err := strconv.Atoi(attrs["port"]); err == nil && p > 0 && p <= 65535 {
		d.Port = p
	}
	return d
}

// Addr returns the radio's TCP command endpoint as host:port
func (d Descriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.IP, d.Port)
}

// Available reports whether the radio announced itself as connectable.
// Radios that never announce a status are assumed available.
func (d Descriptor) Available() bool {
	return d.Status == "" || d.Status == StatusAvailable
}

// String returns a human-readable representation of the descriptor
func (d Descriptor) String() string {
	return fmt.Sprintf("%s %s at %s (%s)", d.Model, d.Serial, d.Addr(), d.Status)
}
