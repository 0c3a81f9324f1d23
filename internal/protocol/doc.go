// Package protocol implements the three wire formats spoken by flexlink radios.
//
// # Command/response/status lines (TCP)
//
// The command session is line-oriented ASCII, one message per \n-terminated
// line, classified by a one-character prefix:
//
//	C<seq>|<command-text>          client -> radio
//	R<seq>|<result-code>|<data>    radio -> client, correlated by seq
//	S<handle>|<type> <key=value>.. radio -> client, unsolicited push
//
// A result code of zero is success; anything else is a rejection with the
// data field carrying a diagnostic message. Status lines carry partial
// attribute updates: only the keys present on the line changed.
//
// # Discovery announcements (UDP broadcast)
//
// One datagram per announcement, space- or newline-delimited key=value
// tokens. The keys serial, model and ip are required; a datagram missing
// any of them is malformed and dropped by the caller.
//
// # Stream packets (UDP)
//
// Binary packets with a fixed 22-byte big-endian header (magic, version,
// kind, stream id, sequence counter, payload length, timestamp) followed by
// 32-bit float payload elements whose interpretation depends on the stream
// kind: mono samples, interleaved I/Q pairs, or spectrum bins.
//
// This package is pure encoding and decoding; it owns no sockets and keeps
// no state. Sequencing, correlation and loss accounting live in the
// session, state and stream packages.
package protocol
