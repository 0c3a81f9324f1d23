package session

import (
	"bufio"
	"context"
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

// State is the session lifecycle state
type State int

const (
	// StateDisconnected is the initial and final state
	StateDisconnected State = iota
	// StateConnecting covers the TCP dial
	StateConnecting
	// StateConnected accepts commands and receives pushes
	StateConnected
	// StateClosing covers teardown; entered exactly once per connection
	StateClosing
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// StatusHandler receives unsolicited status lines in arrival order.
// It is called from the session's read loop: a handler that blocks stalls
// the session, so handlers hand work off (the state synchronizer's apply
// path is lock-bounded and fast).
type StatusHandler func(*protocol.Status)

// CloseHandler is invoked exactly once when the session leaves Connected,
// with the transport error that killed it, or nil for a local Disconnect.
type CloseHandler func(err error)

// maxLineSize bounds one protocol line
const maxLineSize = 64 * 1024

// writeQueueDepth bounds commands accepted ahead of the writer
const writeQueueDepth = 64

// Session owns one TCP connection to a radio's command endpoint. Commands
// are framed with a monotonically increasing sequence number and written in
// submission order by a single writer; responses resolve their issuing
// caller by sequence number, never by arrival order, so slow commands may
// complete out of order. Unsolicited status lines are forwarded to the
// registered StatusHandler in arrival order.
//
// Every sequence number issued while Connected resolves exactly once: a
// matching response, ErrCommandTimeout, or ErrSessionClosed.
type Session struct {
	addr string
	cfg  config.SessionConfig
	m    *metrics.Metrics

	onStatus StatusHandler
	onClose  CloseHandler

	mu      sync.Mutex
	state   State
	conn    net.Conn
	seq     uint32
	pending map[uint32]chan *protocol.Response

	writeQ    chan string
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// New creates a session for one radio command endpoint. The session is
// inert until Connect.
func New(addr string, cfg config.SessionConfig, m *metrics.Metrics) *Session {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Session{
		addr:    addr,
		cfg:     cfg,
		m:       m,
		state:   StateDisconnected,
		pending: make(map[uint32]chan *protocol.Response),
	}
}

// OnStatus registers the status-line consumer. Must be set before Connect.
func (s *Session) OnStatus(h StatusHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStatus = h
}

// OnClose registers the closure hook. Must be set before Connect.
func (s *Session) OnClose(h CloseHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = h
}

// Addr returns the remote command endpoint
func (s *Session) Addr() string {
	return s.addr
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the radio and starts the reader and writer. On failure the
// session remains Disconnected and Connect may be retried.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	dialer := net.Dialer{Timeout: s.cfg.ConnectTimeout.Std()}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Lock()
		s.state = StateDisconnected
		s.mu.Unlock()
		return &ConnectionError{Addr: s.addr, Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.writeQ = make(chan string, writeQueueDepth)
	s.done = make(chan struct{})
	s.closed = make(chan struct{})
	s.closeOnce = sync.Once{}
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.writeLoop(conn)

	if s.cfg.KeepaliveInterval > 0 {
		s.wg.Add(1)
		go s.keepaliveLoop()
	}

	logging.LogConnection(s.addr, "connected")
	return nil
}

// Send issues one command and blocks until it resolves: the matching
// response (a rejection surfaces as *CommandError alongside the response),
// ErrCommandTimeout, ErrSessionClosed, or the caller's context expiring.
// Submission order is wire order.
func (s *Session) Send(ctx context.Context, text string) (*protocol.Response, error) {
	slot := make(chan *protocol.Response, 1)

	// Sequence allocation and enqueue happen under one lock so wire order
	// matches submission order.
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.seq++
	seq := s.seq
	s.pending[seq] = slot
	line := protocol.FormatCommand(seq, text)
	select {
	case s.writeQ <- line:
	default:
		delete(s.pending, seq)
		s.mu.Unlock()
		return nil, fmt.Errorf("command queue full")
	}
	done := s.done
	s.mu.Unlock()

	s.m.CommandsSent.Inc()
	logging.LogLine(s.addr, "sent", line)

	timer := time.NewTimer(s.cfg.CommandTimeout.Std())
	defer timer.Stop()

	select {
	case resp, ok := <-slot:
		if !ok {
			s.m.CommandsCanceled.Inc()
			return nil, ErrSessionClosed
		}
		if !resp.OK() {
			s.m.CommandsRejected.Inc()
			return resp, &CommandError{Code: resp.Code, Message: resp.Data}
		}
		return resp, nil

	case <-timer.C:
		if resp, ok, raced := s.abandon(seq, slot); raced {
			return s.settle(resp, ok)
		}
		s.m.CommandTimeouts.Inc()
		logging.Warn("Command timed out",
			zap.String("remote_addr", s.addr),
			zap.Uint32("seq", seq),
			zap.String("command", text),
		)
		return nil, ErrCommandTimeout

	case <-ctx.Done():
		if resp, ok, raced := s.abandon(seq, slot); raced {
			return s.settle(resp, ok)
		}
		return nil, ctx.Err()

	case <-done:
		// close() resolves the slot; collect it so resolution stays single
		resp, ok := <-slot
		return s.settle(resp, ok)
	}
}

// abandon withdraws a pending slot. When the resolver got there first the
// slot's outcome is returned instead (raced=true) so a command never
// resolves twice.
func (s *Session) abandon(seq uint32, slot chan *protocol.Response) (*protocol.Response, bool, bool) {
	s.mu.Lock()
	_, present := s.pending[seq]
	if present {
		delete(s.pending, seq)
	}
	s.mu.Unlock()

	if present {
		return nil, false, false
	}
	resp, ok := <-slot
	return resp, ok, true
}

// settle converts a resolved slot into Send's return values
func (s *Session) settle(resp *protocol.Response, ok bool) (*protocol.Response, error) {
	if !ok {
		s.m.CommandsCanceled.Inc()
		return nil, ErrSessionClosed
	}
	if !resp.OK() {
		s.m.CommandsRejected.Inc()
		return resp, &CommandError{Code: resp.Code, Message: resp.Data}
	}
	return resp, nil
}

// Disconnect closes the session and waits for its goroutines to exit and
// the OnClose hook to run. All pending commands resolve with
// ErrSessionClosed, and no status line is delivered after this returns.
// Idempotent.
func (s *Session) Disconnect() {
	s.close(nil)
	s.wg.Wait()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed != nil {
		<-closed
	}
}

// close tears the session down exactly once. Runs inline in whichever
// goroutine hit the error first, so it must not wait on the loops; the
// final teardown runs on its own goroutine once the loops have exited.
func (s *Session) close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateConnected && s.state != StateConnecting {
			s.mu.Unlock()
			return
		}
		s.state = StateClosing
		s.closeErr = err
		conn := s.conn
		pending := s.pending
		s.pending = make(map[uint32]chan *protocol.Response)
		done := s.done
		closed := s.closed
		onClose := s.onClose
		s.mu.Unlock()

		if done != nil {
			close(done)
		}
		if conn != nil {
			conn.Close()
		}

		// Cancel every outstanding command with a uniform session-closed
		// outcome, distinct from an individual timeout
		for _, slot := range pending {
			close(slot)
		}

		// The close hook must not run until the read loop has stopped: the
		// scanner keeps yielding already-buffered lines after conn.Close(),
		// and a hook that clears downstream state (the registry) must come
		// strictly after the last status delivery.
		go func() {
			s.wg.Wait()

			s.mu.Lock()
			s.state = StateDisconnected
			s.conn = nil
			s.mu.Unlock()

			if err != nil {
				logging.Error("Session closed on transport error",
					zap.String("remote_addr", s.addr),
					zap.Error(err),
				)
			} else {
				logging.LogConnection(s.addr, "disconnected")
			}

			if onClose != nil {
				onClose(err)
			}
			if closed != nil {
				close(closed)
			}
		}()
	})
}

// readLoop classifies inbound lines until the connection dies. Any read
// error is fatal to the session.
func (s *Session) readLoop(conn net.Conn) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		s.handleLine(scanner.Text())
	}

	err := scanner.Err()
	select {
	case <-s.done:
		// Local close already in progress; the read error is fallout
		return
	default:
	}
	if err == nil {
		err = fmt.Errorf("connection closed by radio")
	}
	s.close(err)
}

// handleLine dispatches one inbound line. Malformed lines are dropped with
// a diagnostic; the session stays open.
func (s *Session) handleLine(line string) {
	if line == "" {
		return
	}
	logging.LogLine(s.addr, "received", line)

	msg, err := protocol.ParseLine(line)
	if err != nil {
		s.m.MalformedLines.Inc()
		logging.Warn("Dropping malformed line",
			zap.String("remote_addr", s.addr),
			zap.String("line", line),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		s.resolve(m)
	case *protocol.Status:
		s.m.StatusLines.Inc()
		s.mu.Lock()
		handler := s.onStatus
		if s.state != StateConnected {
			// Lines buffered by the scanner outlive the connection; once
			// teardown has begun they must not reach the handler
			handler = nil
		}
		s.mu.Unlock()
		if handler != nil {
			// Called in arrival order from this single consumer
			handler(m)
		}
	}
}

// resolve matches a response to its pending slot by sequence number.
// Unmatched sequence numbers are a protocol violation: logged, dropped,
// session stays open.
func (s *Session) resolve(resp *protocol.Response) {
	s.mu.Lock()
	slot, ok := s.pending[resp.Seq]
	if ok {
		delete(s.pending, resp.Seq)
	}
	s.mu.Unlock()

	if !ok {
		logging.Warn("Dropping response with unknown sequence",
			zap.String("remote_addr", s.addr),
			zap.Uint32("seq", resp.Seq),
		)
		return
	}
	slot <- resp
}

// writeLoop is the session's single writer, preserving submission order
func (s *Session) writeLoop(conn net.Conn) {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case line := <-s.writeQ:
			if _, err := conn.Write([]byte(line)); err != nil {
				select {
				case <-s.done:
				default:
					s.close(fmt.Errorf("write failed: %w", err))
				}
				return
			}
		}
	}
}

// keepaliveLoop pings an idle session; a ping that times out is treated as
// a transport failure.
func (s *Session) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if _, err := s.Send(context.Background(), "ping"); err != nil {
				switch err {
				case ErrSessionClosed, ErrNotConnected:
					return
				case ErrCommandTimeout:
					s.close(fmt.Errorf("keepalive timed out"))
					return
				}
				// A rejected ping still proves the transport is alive
			}
		}
	}
}
