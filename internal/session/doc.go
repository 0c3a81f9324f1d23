// Package session implements the line-oriented command connection to a
// single radio.
//
// Commands carry a session-scoped sequence number and are written in
// submission order by a single writer goroutine. The radio answers in its
// own time: responses are matched back to their issuing caller by sequence
// number, so a slow command never blocks a fast one behind it. Unsolicited
// status lines share the same connection and are handed to the registered
// StatusHandler in arrival order.
//
// # Resolution
//
// Every command issued while the session is Connected resolves exactly
// once, with one of:
//
//   - the matching response (non-zero result codes surface as *CommandError
//     alongside the response)
//   - ErrCommandTimeout, when the per-command deadline passes; the session
//     stays open and a late response for that sequence is dropped
//   - ErrSessionClosed, when the session closed while the command was
//     pending
//
// # Failure Model
//
// Command rejection is per-command and leaves the session open. Any socket
// error is fatal: the session closes once, cancels everything pending, and
// invokes the OnClose hook with the transport error. Reconnection is the
// caller's decision, not the session's.
package session
