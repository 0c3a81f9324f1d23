package stream

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sdrkit/flexlink/internal/config"
	"github.com/sdrkit/flexlink/internal/logging"
	"github.com/sdrkit/flexlink/internal/metrics"
	"github.com/sdrkit/flexlink/internal/protocol"
)

// maxDatagramSize is sized for jumbo frames; stream packets in the field
// stay well under it.
const maxDatagramSize = 9000

// Frame is one decoded stream packet. Samples carries audio samples or
// spectrum bins; IQ carries interleaved pairs folded into complex values.
// Exactly one of the two is populated, selected by Kind.
type Frame struct {
	StreamID  uint32
	Kind      protocol.StreamKind
	Sequence  uint32
	Timestamp time.Time
	Samples   []float32
	IQ        []complex64
}

// Elements returns the number of payload elements in the frame
func (f *Frame) Elements() int {
	if f.Kind == protocol.StreamIQ {
		return len(f.IQ)
	}
	return len(f.Samples)
}

// FrameHandler consumes decoded frames. Each subscription has its own
// delivery goroutine, so frames for one stream arrive in order and a
// blocking handler stalls only its own stream.
type FrameHandler func(*Frame)

// frameQueueDepth bounds frames buffered ahead of a subscription's handler
const frameQueueDepth = 256

// Stats is a point-in-time snapshot of one stream's accounting
type Stats struct {
	Packets   uint64 // frames delivered to the handler
	Samples   uint64 // payload elements delivered
	Lost      uint64 // packets inferred lost from sequence gaps
	Stale     uint64 // late or duplicate packets discarded
	Malformed uint64 // packets for this stream dropped before delivery
}

// Subscription binds a stream id to a handler and carries that stream's
// loss accounting. Frames are handed to the handler by the subscription's
// own goroutine, fed through a bounded queue: a handler that stalls sheds
// this stream's oldest frames (charged to Lost) and never delays another
// stream.
type Subscription struct {
	ID       uuid.UUID
	StreamID uint32
	Kind     protocol.StreamKind

	fn     FrameHandler
	frames chan *Frame
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	primed  bool
	lastSeq uint32
	stats   Stats
}

// Stats returns a snapshot of the stream's counters
func (s *Subscription) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// deliverLoop is the subscription's execution context: it drains the frame
// queue into the handler until the subscription ends.
func (s *Subscription) deliverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			s.fn(f)
		}
	}
}

// enqueue queues a frame for delivery without ever blocking the receive
// loop. When the queue is full the oldest frame is shed and charged to the
// stream's Lost counter.
func (s *Subscription) enqueue(f *Frame, m *metrics.Metrics) {
	select {
	case s.frames <- f:
		return
	default:
	}

	select {
	case <-s.frames:
		s.mu.Lock()
		s.stats.Lost++
		s.mu.Unlock()
		m.StreamLost.WithLabelValues(s.Kind.String()).Inc()
	default:
	}

	select {
	case s.frames <- f:
	default:
	}
}

// Decoder receives the radio's binary stream packets on a single UDP
// socket and demultiplexes them by stream id. Streams must be subscribed
// before their packets mean anything: packets for unknown ids are dropped
// without ceremony, since the radio keeps transmitting briefly after a
// stream is torn down.
type Decoder struct {
	cfg config.StreamConfig
	m   *metrics.Metrics

	mu       sync.RWMutex
	byStream map[uint32]*Subscription
	byID     map[uuid.UUID]*Subscription

	conn    *net.UDPConn
	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewDecoder creates a decoder; it owns no socket until Start
func NewDecoder(cfg config.StreamConfig, m *metrics.Metrics) *Decoder {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Decoder{
		cfg:      cfg,
		m:        m,
		byStream: make(map[uint32]*Subscription),
		byID:     make(map[uuid.UUID]*Subscription),
	}
}

// Start binds the stream port and begins receiving
func (d *Decoder) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("stream decoder already started")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: d.cfg.Port})
	if err != nil {
		return fmt.Errorf("failed to bind stream port %d: %w", d.cfg.Port, err)
	}
	if d.cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(d.cfg.ReadBuffer); err != nil {
			logging.Warn("Could not grow stream socket read buffer",
				zap.Int("bytes", d.cfg.ReadBuffer),
				zap.Error(err),
			)
		}
	}

	d.conn = conn
	d.done = make(chan struct{})
	d.started = true

	d.wg.Add(1)
	go d.receiveLoop()

	logging.Info("Stream decoder listening", zap.String("addr", conn.LocalAddr().String()))
	return nil
}

// Stop closes the socket, waits for the receive loop, and ends every
// remaining subscription's delivery goroutine. Idempotent.
func (d *Decoder) Stop() {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.done)
	conn := d.conn
	d.mu.Unlock()

	conn.Close()
	d.wg.Wait()

	// No more enqueues past this point; retire the delivery goroutines
	d.mu.Lock()
	subs := make([]*Subscription, 0, len(d.byID))
	for _, sub := range d.byID {
		subs = append(subs, sub)
	}
	d.byID = make(map[uuid.UUID]*Subscription)
	d.byStream = make(map[uint32]*Subscription)
	d.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
		sub.wg.Wait()
	}
}

// LocalAddr returns the bound socket address, for callers that started
// with an ephemeral port.
func (d *Decoder) LocalAddr() net.Addr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// Subscribe registers a handler for one stream id. The kind is fixed here,
// never inferred from traffic; a packet whose header disagrees is dropped
// as malformed. One subscription per stream id.
func (d *Decoder) Subscribe(streamID uint32, kind protocol.StreamKind, fn FrameHandler) (*Subscription, error) {
	if streamID == 0 {
		return nil, fmt.Errorf("stream id must be non-zero")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown stream kind 0x%02x", byte(kind))
	}
	if fn == nil {
		return nil, fmt.Errorf("frame handler must not be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.byStream[streamID]; exists {
		return nil, fmt.Errorf("stream 0x%08x already subscribed", streamID)
	}

	sub := &Subscription{
		ID:       uuid.New(),
		StreamID: streamID,
		Kind:     kind,
		fn:       fn,
		frames:   make(chan *Frame, frameQueueDepth),
		done:     make(chan struct{}),
	}
	d.byStream[streamID] = sub
	d.byID[sub.ID] = sub

	sub.wg.Add(1)
	go sub.deliverLoop()

	logging.Debug("Stream subscribed",
		zap.String("stream_id", fmt.Sprintf("0x%08x", streamID)),
		zap.String("kind", kind.String()),
	)
	return sub, nil
}

// Unsubscribe removes a subscription and waits for its delivery goroutine
// to exit: a delivery in progress completes first, and no frame reaches
// the handler after Unsubscribe returns. Unknown ids are a no-op.
func (d *Decoder) Unsubscribe(id uuid.UUID) {
	d.mu.Lock()
	sub, ok := d.byID[id]
	if ok {
		delete(d.byID, id)
		delete(d.byStream, sub.StreamID)
	}
	d.mu.Unlock()

	if ok {
		close(sub.done)
		sub.wg.Wait()
	}
}

// receiveLoop reads datagrams until the socket closes
func (d *Decoder) receiveLoop() {
	defer d.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				logging.Error("Stream socket read failed", zap.Error(err))
				return
			}
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		d.handlePacket(packet)
	}
}

// handlePacket validates, demultiplexes, and accounts for one datagram
func (d *Decoder) handlePacket(packet []byte) {
	header, payload, err := protocol.DecodeStreamHeader(packet)
	if err != nil {
		d.m.StreamMalformed.WithLabelValues("unknown").Inc()
		return
	}

	d.mu.RLock()
	sub := d.byStream[header.StreamID]
	d.mu.RUnlock()

	if sub == nil {
		// Unsubscribed stream: expected during teardown, not an error
		return
	}

	if header.Kind != sub.Kind {
		sub.mu.Lock()
		sub.stats.Malformed++
		sub.mu.Unlock()
		d.m.StreamMalformed.WithLabelValues(sub.Kind.String()).Inc()
		return
	}

	sub.mu.Lock()
	if sub.primed {
		// Signed difference against the expected next sequence handles
		// counter wraparound: positive means packets were lost ahead of
		// this one, negative means this one is late or duplicated.
		delta := int32(header.Sequence - (sub.lastSeq + 1))
		switch {
		case delta < 0:
			sub.stats.Stale++
			sub.mu.Unlock()
			d.m.StreamStale.WithLabelValues(sub.Kind.String()).Inc()
			return
		case delta > 0:
			sub.stats.Lost += uint64(delta)
			d.m.StreamLost.WithLabelValues(sub.Kind.String()).Add(float64(delta))
		}
	}
	sub.primed = true
	sub.lastSeq = header.Sequence

	frame := &Frame{
		StreamID:  header.StreamID,
		Kind:      header.Kind,
		Sequence:  header.Sequence,
		Timestamp: time.Unix(0, int64(header.Timestamp)),
	}
	if header.Kind == protocol.StreamIQ {
		frame.IQ = protocol.DecodeIQ(payload)
	} else {
		frame.Samples = protocol.DecodeFloats(payload)
	}

	sub.stats.Packets++
	sub.stats.Samples += uint64(frame.Elements())
	sub.mu.Unlock()

	d.m.StreamPackets.WithLabelValues(sub.Kind.String()).Inc()
	sub.enqueue(frame, d.m)
}
