package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sdrkit/flexlink/internal/config"
	"github.com/sdrkit/flexlink/internal/discovery"
	"github.com/sdrkit/flexlink/internal/logging"
	"github.com/sdrkit/flexlink/internal/metrics"
	"github.com/sdrkit/flexlink/internal/protocol"
	"github.com/sdrkit/flexlink/internal/session"
	"github.com/sdrkit/flexlink/internal/state"
	"github.com/sdrkit/flexlink/internal/stream"
)

// Engine lifecycle and lookup errors
var (
	// ErrEngineClosed is returned by every operation after Close
	ErrEngineClosed = errors.New("engine closed")

	// ErrUnknownRadio means no descriptor or session exists for the serial
	ErrUnknownRadio = errors.New("unknown radio")

	// ErrAlreadyConnected means a session for the serial already exists
	ErrAlreadyConnected = errors.New("radio already connected")

	// ErrRadioBusy means the radio announced itself as claimed by another
	// client. Connecting is refused up front rather than letting the radio
	// reject the session mid-handshake.
	ErrRadioBusy = errors.New("radio in use by another client")
)

// connectedRadio ties one serial's session to its registry writer
type connectedRadio struct {
	descriptor discovery.Descriptor
	session    *session.Session
	sync       *state.Synchronizer
}

// Engine composes discovery, sessions, the object registry, and the stream
// decoder into one client-side endpoint. It owns their lifecycles: Start
// brings up the shared sockets, Connect attaches a radio's status feed to
// the registry, and a session ending for any reason clears that radio's
// objects so observers never read connected-looking state from a radio
// that is gone.
type Engine struct {
	cfg *config.Config
	m   *metrics.Metrics

	listener *discovery.Listener
	decoder  *stream.Decoder
	registry *state.Registry

	mu      sync.Mutex
	radios  map[string]*connectedRadio
	started bool
	closed  bool
}

// New assembles an engine from configuration. Nothing is bound until Start.
func New(cfg *config.Config, m *metrics.Metrics) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Engine{
		cfg:      cfg,
		m:        m,
		listener: discovery.NewListener(cfg.Discovery, m),
		decoder:  stream.NewDecoder(cfg.Stream, m),
		registry: state.NewRegistry(),
		radios:   make(map[string]*connectedRadio),
	}
}

// Start binds the discovery and stream sockets
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}
	if e.started {
		return fmt.Errorf("engine already started")
	}

	if err := e.listener.Start(); err != nil {
		return err
	}
	if err := e.decoder.Start(); err != nil {
		e.listener.Stop()
		return err
	}

	e.started = true
	return nil
}

// Close disconnects every radio and releases the shared sockets. All
// pending commands resolve with the session-closed error and every
// connected radio's objects are cleared. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	started := e.started
	radios := make([]*connectedRadio, 0, len(e.radios))
	for _, r := range e.radios {
		radios = append(radios, r)
	}
	e.mu.Unlock()

	for _, r := range radios {
		r.session.Disconnect()
	}
	if started {
		e.decoder.Stop()
		e.listener.Stop()
	}
}

// Radios returns the current discovery table
func (e *Engine) Radios() []discovery.Descriptor {
	return e.listener.Snapshot()
}

// Events returns the discovery change feed
func (e *Engine) Events() <-chan discovery.Event {
	return e.listener.Events()
}

// Registry returns the shared object registry
func (e *Engine) Registry() *state.Registry {
	return e.registry
}

// Streams returns the shared stream decoder
func (e *Engine) Streams() *stream.Decoder {
	return e.decoder
}

// Connected returns the serials with a live session
func (e *Engine) Connected() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]string, 0, len(e.radios))
	for serial := range e.radios {
		out = append(out, serial)
	}
	return out
}

// Session returns the live session for a serial
func (e *Engine) Session(serial string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.radios[serial]
	if !ok {
		return nil, false
	}
	return r.session, true
}

// Connect opens a command session to the described radio and wires its
// status feed into the registry. A radio announcing itself as in use is
// refused without dialing. Connection failure leaves no trace; the
// attempt may be retried.
func (e *Engine) Connect(ctx context.Context, desc discovery.Descriptor) error {
	if desc.Serial == "" {
		return fmt.Errorf("descriptor has no serial")
	}
	if !desc.Available() {
		return &session.ConnectionError{Addr: desc.Addr(), Err: ErrRadioBusy}
	}

	sess := session.New(desc.Addr(), e.cfg.Session, e.m)
	sync := state.NewSynchronizer(desc.Serial, e.registry)
	r := &connectedRadio{descriptor: desc, session: sess, sync: sync}

	// Reserve the serial before dialing so concurrent Connects for the same
	// radio cannot race past each other.
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if _, exists := e.radios[desc.Serial]; exists {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.radios[desc.Serial] = r
	e.mu.Unlock()

	sess.OnStatus(func(st *protocol.Status) {
		sync.Apply(st)
	})
	sess.OnClose(func(err error) {
		// Runs for local disconnects and transport failures alike: the
		// radio's objects must not outlive its session.
		sync.Drop()
		e.forget(desc.Serial, r)
		if err != nil {
			logging.Warn("Radio connection lost",
				zap.String("serial", desc.Serial),
				zap.Error(err),
			)
		}
	})

	if err := sess.Connect(ctx); err != nil {
		e.forget(desc.Serial, r)
		return err
	}

	logging.Info("Radio connected",
		zap.String("serial", desc.Serial),
		zap.String("addr", desc.Addr()),
	)
	return nil
}

// ConnectSerial resolves a serial against the discovery table and connects
func (e *Engine) ConnectSerial(ctx context.Context, serial string) error {
	for _, desc := range e.listener.Snapshot() {
		if desc.Serial == serial {
			return e.Connect(ctx, desc)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownRadio, serial)
}

// Send issues one command on a connected radio's session
func (e *Engine) Send(ctx context.Context, serial, command string) (*protocol.Response, error) {
	sess, ok := e.Session(serial)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRadio, serial)
	}
	return sess.Send(ctx, command)
}

// Disconnect closes a radio's session. Its objects are cleared via the
// session's close hook before this returns.
func (e *Engine) Disconnect(serial string) error {
	sess, ok := e.Session(serial)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRadio, serial)
	}
	sess.Disconnect()
	return nil
}

// forget removes a serial's entry if it still belongs to the given radio.
// The guard keeps a stale close hook from evicting a successor session.
func (e *Engine) forget(serial string, r *connectedRadio) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if current, ok := e.radios[serial]; ok && current == r {
		delete(e.radios, serial)
	}
}
