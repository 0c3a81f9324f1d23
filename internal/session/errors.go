package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session lifecycle. A caller distinguishes a
// command that individually timed out (session still open) from a command
// swept up in session closure.
var (
	// ErrNotConnected is returned by Send when the session is not Connected
	ErrNotConnected = errors.New("session not connected")

	// ErrAlreadyConnected is returned by Connect on a live session
	ErrAlreadyConnected = errors.New("session already connected")

	// ErrCommandTimeout resolves a command whose response never arrived
	// within its deadline. The session stays open.
	ErrCommandTimeout = errors.New("command timed out")

	// ErrSessionClosed resolves every command pending at the moment the
	// session closed, and all calls after that.
	ErrSessionClosed = errors.New("session closed")
)

// CommandError is a command the radio answered with a non-zero result
// code. The session stays open; only the issuing caller sees it.
type CommandError struct {
	Code    uint32
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("command rejected with code 0x%08X", e.Code)
	}
	return fmt.Sprintf("command rejected with code 0x%08X: %s", e.Code, e.Message)
}

// ConnectionError is a failed connection attempt. The session remains
// Disconnected and may be retried.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
