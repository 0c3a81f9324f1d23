package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sdrkit/flexlink/internal/config"
	"github.com/sdrkit/flexlink/internal/protocol"
)

// fakeRadio is a scripted command endpoint on a loopback listener. The
// handler sees each inbound command line and writes whatever it likes back;
// a nil handler swallows commands silently.
type fakeRadio struct {
	t        *testing.T
	listener net.Listener

	mu   sync.Mutex
	conn net.Conn

	handler func(line string, reply func(string))
}

func newFakeRadio(t *testing.T, handler func(line string, reply func(string))) *fakeRadio {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	r := &fakeRadio{t: t, listener: listener, handler: handler}
	go r.serve()
	t.Cleanup(r.stop)
	return r
}

func (r *fakeRadio) serve() {
	conn, err := r.listener.Accept()
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	reply := func(line string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		fmt.Fprintf(conn, "%s\n", line)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if r.handler != nil {
			r.handler(scanner.Text(), reply)
		}
	}
}

// push writes an unsolicited line to the client
func (r *fakeRadio) push(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		fmt.Fprintf(r.conn, "%s\n", line)
	}
}

// dropConnection severs the TCP connection from the radio side
func (r *fakeRadio) dropConnection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
	}
}

func (r *fakeRadio) stop() {
	r.listener.Close()
	r.dropConnection()
}

func (r *fakeRadio) addr() string {
	return r.listener.Addr().String()
}

// echoOK answers every command with success, echoing the command text
func echoOK(line string, reply func(string)) {
	var seq uint32
	var text string
	if n, _ := fmt.Sscanf(line, "C%d|", &seq); n == 1 {
		if i := strings.IndexByte(line, '|'); i >= 0 {
			text = line[i+1:]
		}
		reply(fmt.Sprintf("R%d|0|%s", seq, text))
	}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		Port:           config.DefaultCommandPort,
		ConnectTimeout: config.Duration(2 * time.Second),
		CommandTimeout: config.Duration(200 * time.Millisecond),
	}
}

func connect(t *testing.T, radio *fakeRadio, cfg config.SessionConfig) *Session {
	t.Helper()
	s := New(radio.addr(), cfg, nil)
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s
}

func TestSession_CommandRoundTrip(t *testing.T) {
	radio := newFakeRadio(t, echoOK)
	s := connect(t, radio, testSessionConfig())

	if s.State() != StateConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}

	resp, err := s.Send(context.Background(), "slice tune 0 14.200")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.OK() {
		t.Errorf("code = %d, want 0", resp.Code)
	}
	if resp.Data != "slice tune 0 14.200" {
		t.Errorf("data = %q, echoed command expected", resp.Data)
	}
}

func TestSession_OutOfOrderResponses(t *testing.T) {
	// The radio answers the second command before the first; each caller
	// must still get its own response, matched by sequence number.
	var mu sync.Mutex
	var held []string
	radio := newFakeRadio(t, func(line string, reply func(string)) {
		var seq uint32
		fmt.Sscanf(line, "C%d|", &seq)
		mu.Lock()
		defer mu.Unlock()
		if len(held) == 0 {
			// Hold the first command's response until the second arrives
			held = append(held, fmt.Sprintf("R%d|0|first", seq))
			return
		}
		reply(fmt.Sprintf("R%d|0|second", seq))
		reply(held[0])
	})
	s := connect(t, radio, testSessionConfig())

	var wg sync.WaitGroup
	results := make([]string, 2)
	errs := make([]error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		resp, err := s.Send(context.Background(), "slow")
		if resp != nil {
			results[0] = resp.Data
		}
		errs[0] = err
	}()
	// Make sure "slow" is submitted first
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		resp, err := s.Send(context.Background(), "fast")
		if resp != nil {
			results[1] = resp.Data
		}
		errs[1] = err
	}()
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		t.Fatalf("errors: %v, %v", errs[0], errs[1])
	}
	if results[0] != "first" || results[1] != "second" {
		t.Errorf("responses crossed: %q, %q", results[0], results[1])
	}
}

func TestSession_CommandRejected(t *testing.T) {
	radio := newFakeRadio(t, func(line string, reply func(string)) {
		var seq uint32
		fmt.Sscanf(line, "C%d|", &seq)
		reply(fmt.Sprintf("R%d|0x50000015|unknown command", seq))
	})
	s := connect(t, radio, testSessionConfig())

	resp, err := s.Send(context.Background(), "nonsense")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error = %v, want *CommandError", err)
	}
	if cmdErr.Code != 0x50000015 || cmdErr.Message != "unknown command" {
		t.Errorf("CommandError = %+v", cmdErr)
	}
	if resp == nil || resp.Code != 0x50000015 {
		t.Errorf("response should accompany the rejection, got %v", resp)
	}

	// The session stays open after a rejection
	if s.State() != StateConnected {
		t.Errorf("state = %v after rejection", s.State())
	}
}

func TestSession_CommandTimeout(t *testing.T) {
	var mu sync.Mutex
	mute := true
	radio := newFakeRadio(t, func(line string, reply func(string)) {
		mu.Lock()
		muted := mute
		mu.Unlock()
		if !muted {
			echoOK(line, reply)
		}
	})
	s := connect(t, radio, testSessionConfig())

	_, err := s.Send(context.Background(), "into the void")
	if !errors.Is(err, ErrCommandTimeout) {
		t.Fatalf("error = %v, want ErrCommandTimeout", err)
	}

	// Timeout is surfaced to that caller only; the session keeps working
	if s.State() != StateConnected {
		t.Fatalf("state = %v after timeout", s.State())
	}
	mu.Lock()
	mute = false
	mu.Unlock()

	if _, err := s.Send(context.Background(), "still alive"); err != nil {
		t.Errorf("command after timeout failed: %v", err)
	}
}

func TestSession_StatusForwardedInOrder(t *testing.T) {
	radio := newFakeRadio(t, echoOK)

	var mu sync.Mutex
	var seen []string
	s := New(radio.addr(), testSessionConfig(), nil)
	s.OnStatus(func(status *protocol.Status) {
		mu.Lock()
		seen = append(seen, status.Attrs["freq"])
		mu.Unlock()
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	for i := 0; i < 5; i++ {
		radio.push(fmt.Sprintf("S0x1|slice freq=%d", i))
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("saw %d status lines, want 5", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, freq := range seen {
		if freq != fmt.Sprintf("%d", i) {
			t.Fatalf("status lines out of order: %v", seen)
		}
	}
}

func TestSession_MalformedAndUnmatchedLinesDropped(t *testing.T) {
	radio := newFakeRadio(t, echoOK)
	s := connect(t, radio, testSessionConfig())

	radio.push("R999|0|nobody asked")  // unmatched sequence
	radio.push("garbage without form") // unknown prefix
	radio.push("R|broken")             // malformed response

	// Session survives all of it
	time.Sleep(50 * time.Millisecond)
	if s.State() != StateConnected {
		t.Fatalf("state = %v, want connected", s.State())
	}
	if _, err := s.Send(context.Background(), "check"); err != nil {
		t.Errorf("Send() after protocol violations: %v", err)
	}
}

func TestSession_DisconnectCancelsPending(t *testing.T) {
	radio := newFakeRadio(t, nil) // never answers
	cfg := testSessionConfig()
	cfg.CommandTimeout = config.Duration(10 * time.Second)
	s := connect(t, radio, cfg)

	const pending = 4
	var wg sync.WaitGroup
	errs := make([]error, pending)
	for i := 0; i < pending; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Send(context.Background(), "hang")
		}(i)
	}

	// Let the commands register
	time.Sleep(50 * time.Millisecond)
	s.Disconnect()
	wg.Wait()

	// Exactly M session-closed cancellations, no timeouts
	for i, err := range errs {
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("pending[%d] resolved with %v, want ErrSessionClosed", i, err)
		}
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}

	if _, err := s.Send(context.Background(), "too late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestSession_NoStatusAfterDisconnect(t *testing.T) {
	radio := newFakeRadio(t, echoOK)

	var mu sync.Mutex
	delivered := 0
	closedAt := -1
	s := New(radio.addr(), testSessionConfig(), nil)
	s.OnStatus(func(*protocol.Status) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	s.OnClose(func(error) {
		mu.Lock()
		closedAt = delivered
		mu.Unlock()
	})
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Flood status lines so some are still buffered when the session closes
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				radio.push(fmt.Sprintf("S0x1|slice freq=%d", i))
			}
		}
	}()

	time.Sleep(20 * time.Millisecond)
	s.Disconnect()
	close(stop)
	wg.Wait()

	mu.Lock()
	atClose, afterDisconnect := closedAt, delivered
	mu.Unlock()

	if atClose < 0 {
		t.Fatal("close hook never invoked")
	}
	// The close hook runs strictly after the last status delivery, and
	// Disconnect does not return before the hook has run
	if afterDisconnect != atClose {
		t.Errorf("%d status lines delivered after the close hook", afterDisconnect-atClose)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	final := delivered
	mu.Unlock()
	if final != afterDisconnect {
		t.Errorf("%d status lines delivered after Disconnect returned", final-afterDisconnect)
	}
}

func TestSession_RemoteCloseSignalsHandler(t *testing.T) {
	radio := newFakeRadio(t, nil)

	closed := make(chan error, 1)
	s := New(radio.addr(), testSessionConfig(), nil)
	s.OnClose(func(err error) { closed <- err })
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Disconnect()

	radio.dropConnection()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("remote close should carry a transport error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close handler never invoked")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	// A listener that is immediately closed leaves a refused port behind
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	s := New(addr, testSessionConfig(), nil)
	err = s.Connect(context.Background())

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("error = %v, want *ConnectionError", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected after failed connect", s.State())
	}

	// A failed attempt may be retried (against a live radio this time)
	radio := newFakeRadio(t, echoOK)
	s2 := connect(t, radio, testSessionConfig())
	if s2.State() != StateConnected {
		t.Errorf("retry state = %v", s2.State())
	}
}

func TestSession_DoubleConnect(t *testing.T) {
	radio := newFakeRadio(t, echoOK)
	s := connect(t, radio, testSessionConfig())

	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
}
