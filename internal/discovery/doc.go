// Package discovery maintains the table of reachable radios.
//
// Radios announce themselves with periodic UDP broadcast datagrams of
// key=value tokens. The Listener binds the well-known discovery port,
// upserts a descriptor per announcement (keyed by serial), and evicts
// descriptors that miss their refresh window, emitting exactly one Removed
// event per eviction. The eviction TTL exceeds the broadcast interval so a
// missed beacon or two does not drop a live radio.
//
// # Event Delivery
//
// Table changes are delivered on a bounded channel. The receive loop never
// blocks on a slow consumer: when the channel fills, the oldest queued
// event is dropped. Late subscribers call Snapshot() for the current table
// before ranging over Events(), so there is no subscribe-before-start
// ordering requirement.
//
// # Secondary mDNS Path
//
// Radios that also advertise a _flexlink._tcp service over mDNS are folded
// into the same descriptor table when the mdns config flag is set. Both
// paths share the upsert and eviction machinery; a descriptor does not
// record which path announced it.
//
// # Failure Semantics
//
// A socket bind failure is fatal and surfaced by Start. Individual
// malformed announcements are counted, logged at debug level, and dropped.
package discovery
