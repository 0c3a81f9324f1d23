package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Stream packet framing constants
const (
	// StreamMagic marks the start of every stream packet ("ST")
	StreamMagic = 0x5354

	// StreamVersion is the only packet layout revision in the field
	StreamVersion = 0x01

	// StreamHeaderSize is the fixed header length in bytes
	StreamHeaderSize = 22
)

// StreamKind selects how a stream's payload elements are interpreted.
// The kind is fixed when a stream is subscribed, never auto-detected.
type StreamKind byte

const (
	// StreamAudio carries mono 32-bit float samples
	StreamAudio StreamKind = 0x01
	// StreamIQ carries interleaved 32-bit float in-phase/quadrature pairs
	StreamIQ StreamKind = 0x02
	// StreamSpectrum carries 32-bit float power-level bins
	StreamSpectrum StreamKind = 0x03
)

// String returns a human-readable kind name
func (k StreamKind) String() string {
	switch k {
	case StreamAudio:
		return "audio"
	case StreamIQ:
		return "iq"
	case StreamSpectrum:
		return "spectrum"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Valid reports whether the kind is one of the defined payload encodings
func (k StreamKind) Valid() bool {
	return k == StreamAudio || k == StreamIQ || k == StreamSpectrum
}

// Stream header validation errors. Packets failing validation are dropped
// silently by the decoder; these exist so tests and diagnostics can tell
// the failure modes apart.
var (
	ErrShortHeader  = fmt.Errorf("stream header too short")
	ErrBadMagic     = fmt.Errorf("stream header bad magic")
	ErrBadVersion   = fmt.Errorf("stream header bad version")
	ErrZeroStreamID = fmt.Errorf("stream header zero stream id")
)

// StreamHeader is the fixed header preceding every stream payload.
// All fields are big-endian on the wire:
//
//	offset  size  field
//	0       2     magic (0x5354)
//	2       1     version (0x01)
//	3       1     kind
//	4       4     stream id (non-zero)
//	8       4     sequence counter
//	12      2     payload byte length
//	14      8     timestamp, nanoseconds since the Unix epoch
type StreamHeader struct {
	Kind       StreamKind
	StreamID   uint32
	Sequence   uint32
	PayloadLen uint16
	Timestamp  uint64
}

// DecodeStreamHeader validates and parses a packet's fixed header.
// It returns the header and the payload slice following it.
func DecodeStreamHeader(packet []byte) (StreamHeader, []byte, error) {
	var h StreamHeader

	if len(packet) < StreamHeaderSize {
		return h, nil, fmt.Errorf("%w: %d bytes (need %d)", ErrShortHeader, len(packet), StreamHeaderSize)
	}
	if binary.BigEndian.Uint16(packet[0:2]) != StreamMagic {
		return h, nil, ErrBadMagic
	}
	if packet[2] != StreamVersion {
		return h, nil, fmt.Errorf("%w: 0x%02x", ErrBadVersion, packet[2])
	}

	h.Kind = StreamKind(packet[3])
	h.StreamID = binary.BigEndian.Uint32(packet[4:8])
	h.Sequence = binary.BigEndian.Uint32(packet[8:12])
	h.PayloadLen = binary.BigEndian.Uint16(packet[12:14])
	h.Timestamp = binary.BigEndian.Uint64(packet[14:22])

	if h.StreamID == 0 {
		return h, nil, ErrZeroStreamID
	}

	payload := packet[StreamHeaderSize:]
	// Honor the advertised length when the datagram carries trailing
	// padding; a truncated datagram keeps whatever bytes actually arrived.
	if int(h.PayloadLen) < len(payload) {
		payload = payload[:h.PayloadLen]
	}

	return h, payload, nil
}

// EncodeStreamPacket frames a payload with a stream header. Used by tests
// and by local loopback packet generators.
func EncodeStreamPacket(h StreamHeader, payload []byte) []byte {
	packet := make([]byte, StreamHeaderSize+len(payload))
	binary.BigEndian.PutUint16(packet[0:2], StreamMagic)
	packet[2] = StreamVersion
	packet[3] = byte(h.Kind)
	binary.BigEndian.PutUint32(packet[4:8], h.StreamID)
	binary.BigEndian.PutUint32(packet[8:12], h.Sequence)
	binary.BigEndian.PutUint16(packet[12:14], uint16(len(payload)))
	binary.BigEndian.PutUint64(packet[14:22], h.Timestamp)
	copy(packet[StreamHeaderSize:], payload)
	return packet
}

// DecodeFloats interprets a payload as big-endian 32-bit floats. A trailing
// partial element is dropped.
func DecodeFloats(payload []byte) []float32 {
	n := len(payload) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.BigEndian.Uint32(payload[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// DecodeIQ interprets a payload as interleaved I/Q float pairs. A trailing
// partial pair is dropped.
func DecodeIQ(payload []byte) []complex64 {
	floats := DecodeFloats(payload)
	n := len(floats) / 2
	out := make([]complex64, n)
	for i := 0; i < n; i++ {
		out[i] = complex(floats[2*i], floats[2*i+1])
	}
	return out
}

// EncodeFloats is the inverse of DecodeFloats, for tests and generators
func EncodeFloats(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], math.Float32bits(s))
	}
	return out
}
