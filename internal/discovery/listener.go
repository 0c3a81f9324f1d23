package discovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sdrkit/flexlink/internal/config"
	"github.com/sdrkit/flexlink/internal/logging"
	"github.com/sdrkit/flexlink/internal/metrics"
	"github.com/sdrkit/flexlink/internal/protocol"
)

// EventKind classifies a change to the descriptor table
type EventKind int

const (
	// Added fires on the first announcement for a serial
	Added EventKind = iota
	// Updated fires on every refresh of a known serial
	Updated
	// Removed fires exactly once when a descriptor is evicted
	Removed
)

// String returns the event kind name
func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is one change to the descriptor table
type Event struct {
	Kind       EventKind
	Descriptor Descriptor
}

// maxAnnouncementSize bounds a single discovery datagram
const maxAnnouncementSize = 2048

// Listener receives UDP broadcast announcements, maintains the descriptor
// table, and evicts descriptors whose announcements stop arriving.
//
// Events are delivered on a bounded channel with drop-oldest overflow: a
// slow consumer loses old events, never blocks the receive loop. Snapshot()
// gives late subscribers the current table, so the feed carries no
// subscribe-before-start ordering requirement.
type Listener struct {
	cfg config.DiscoveryConfig
	m   *metrics.Metrics

	mu     sync.Mutex
	radios map[string]Descriptor

	events chan Event
	conn   *net.UDPConn
	done   chan struct{}
	wg     sync.WaitGroup

	started bool
	stopped bool

	// now is replaceable for eviction tests
	now func() time.Time
}

// NewListener creates a listener; Start binds the socket.
func NewListener(cfg config.DiscoveryConfig, m *metrics.Metrics) *Listener {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Listener{
		cfg:    cfg,
		m:      m,
		radios: make(map[string]Descriptor),
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Start binds the broadcast socket and begins receiving announcements.
// A bind failure is fatal and returned; after that the listener is unusable
// and a fresh one must be created.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return fmt.Errorf("discovery listener already started")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: l.cfg.Port})
	if err != nil {
		return fmt.Errorf("failed to bind discovery port %d: %w", l.cfg.Port, err)
	}

	l.conn = conn
	l.started = true

	l.wg.Add(2)
	go l.receiveLoop()
	go l.sweepLoop()

	if l.cfg.MDNS {
		l.wg.Add(1)
		go l.mdnsLoop()
	}

	logging.Info("Discovery listener started", zap.Int("port", l.cfg.Port))
	return nil
}

// Stop releases the socket and closes the event channel. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	conn := l.conn
	l.mu.Unlock()

	close(l.done)
	conn.Close()
	l.wg.Wait()
	close(l.events)

	logging.Info("Discovery listener stopped")
}

// Events returns the change feed. The channel is closed by Stop.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// LocalAddr returns the bound socket address, or nil before Start.
// Useful when the configured port is zero and the kernel picked one.
func (l *Listener) LocalAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Snapshot returns the current descriptor table. Combined with the event
// feed this lets a late subscriber catch up without missing early radios.
func (l *Listener) Snapshot() []Descriptor {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Descriptor, 0, len(l.radios))
	for _, d := range l.radios {
		out = append(out, d)
	}
	return out
}

// receiveLoop reads announcement datagrams until the socket is closed
func (l *Listener) receiveLoop() {
	defer l.wg.Done()

	buf := make([]byte, maxAnnouncementSize)
	for {
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			logging.Warn("Discovery read error", zap.Error(err))
			return
		}

		l.handleAnnouncement(buf[:n], addr)
	}
}

// handleAnnouncement parses one datagram and upserts the descriptor table.
// Malformed datagrams are dropped silently (counted and logged at debug).
func (l *Listener) handleAnnouncement(datagram []byte, from *net.UDPAddr) {
	attrs, err := protocol.ParseAnnouncement(datagram)
	if err != nil {
		l.m.MalformedPackets.Inc()
		logging.Debug("Dropping malformed announcement",
			zap.Stringer("from", from),
			zap.Error(err),
		)
		return
	}

	l.upsert(attrs)
}

// upsert replaces the descriptor for a serial wholesale and refreshes its
// last-seen clock. Shared by the broadcast and mDNS paths.
func (l *Listener) upsert(attrs map[string]string) {
	d := newDescriptor(attrs, l.now())

	l.mu.Lock()
	_, known := l.radios[d.Serial]
	l.radios[d.Serial] = d
	size := len(l.radios)
	l.mu.Unlock()

	l.m.RadiosKnown.Set(float64(size))

	if known {
		l.emit(Event{Kind: Updated, Descriptor: d})
		return
	}

	l.m.RadiosDiscovered.Inc()
	logging.LogDiscovery("added", d.Serial, d.Addr())
	l.emit(Event{Kind: Added, Descriptor: d})
}

// sweepLoop periodically evicts descriptors that missed their refresh window
func (l *Listener) sweepLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.SweepInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep evicts every descriptor whose last-seen exceeds the TTL, emitting
// one Removed event per eviction.
func (l *Listener) sweep() {
	cutoff := l.now().Add(-l.cfg.TTL.Std())

	l.mu.Lock()
	var evicted []Descriptor
	for serial, d := range l.radios {
		if d.LastSeen.Before(cutoff) {
			delete(l.radios, serial)
			evicted = append(evicted, d)
		}
	}
	size := len(l.radios)
	l.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	l.m.RadiosKnown.Set(float64(size))
	for _, d := range evicted {
		l.m.RadiosEvicted.Inc()
		logging.LogDiscovery("removed", d.Serial, d.Addr())
		l.emit(Event{Kind: Removed, Descriptor: d})
	}
}

// emit delivers an event without ever blocking the caller. When the channel
// is full the oldest queued event is dropped to make room.
func (l *Listener) emit(ev Event) {
	select {
	case l.events <- ev:
		return
	default:
	}

	select {
	case <-l.events:
	default:
	}

	select {
	case l.events <- ev:
	default:
	}
}
