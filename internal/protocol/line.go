package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Line prefixes for the TCP command session
const (
	PrefixCommand  = 'C'
	PrefixResponse = 'R'
	PrefixStatus   = 'S'
)

// ResultOK is the result code radios send for a successfully executed command.
const ResultOK = 0

// Parsing errors. Callers drop the offending line and keep the session open.
var (
	ErrEmptyLine     = errors.New("empty line")
	ErrUnknownPrefix = errors.New("unknown line prefix")
	ErrMalformedLine = errors.New("malformed line")
)

// Message is a parsed inbound line: either a *Response or a *Status.
type Message interface {
	// Prefix returns the one-character line prefix this message was parsed from
	Prefix() byte
	String() string
}

// Response is a reply to a previously issued command, correlated by Seq.
type Response struct {
	Seq  uint32
	Code uint32
	Data string
}

// Prefix returns 'R'
func (r *Response) Prefix() byte { return PrefixResponse }

// OK reports whether the command was accepted
func (r *Response) OK() bool { return r.Code == ResultOK }

func (r *Response) String() string {
	return fmt.Sprintf("Response{seq=%d, code=%d, data=%q}", r.Seq, r.Code, r.Data)
}

// Status is an unsolicited push carrying partial attribute updates for one
// object. Only the keys present in Attrs changed; absent keys are unchanged.
// Removed marks the object as destroyed rather than updated.
type Status struct {
	Handle  string
	Object  string
	Removed bool
	Attrs   map[string]string
}

// Prefix returns 'S'
func (s *Status) Prefix() byte { return PrefixStatus }

func (s *Status) String() string {
	return fmt.Sprintf("Status{handle=%s, object=%s, removed=%v, attrs=%d}",
		s.Handle, s.Object, s.Removed, len(s.Attrs))
}

// FormatCommand frames a command for the wire: C<seq>|<text>\n
func FormatCommand(seq uint32, text string) string {
	return fmt.Sprintf("C%d|%s\n", seq, text)
}

// ParseLine classifies and parses one inbound line (without its trailing
// newline). It returns a *Response or a *Status, or an error wrapping
// ErrUnknownPrefix or ErrMalformedLine for lines that must be dropped.
func ParseLine(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, ErrEmptyLine
	}

	switch line[0] {
	case PrefixResponse:
		return parseResponse(line[1:])
	case PrefixStatus:
		return parseStatus(line[1:])
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrefix, line[0])
	}
}

// parseResponse parses "<seq>|<code>|<optional-data>"
func parseResponse(body string) (*Response, error) {
	parts := strings.SplitN(body, "|", 3)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: response needs seq and code", ErrMalformedLine)
	}

	seq, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad response sequence %q: %v", ErrMalformedLine, parts[0], err)
	}

	// Result codes are sent in hex by some firmware revisions and decimal by
	// others; accept both.
	code, err := parseResultCode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad result code %q: %v", ErrMalformedLine, parts[1], err)
	}

	resp := &Response{Seq: uint32(seq), Code: code}
	if len(parts) == 3 {
		resp.Data = parts[2]
	}
	return resp, nil
}

func parseResultCode(s string) (uint32, error) {
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// parseStatus parses "<handle>|<object-type> <key=value>..."
func parseStatus(body string) (*Status, error) {
	bar := strings.IndexByte(body, '|')
	if bar < 0 {
		return nil, fmt.Errorf("%w: status needs handle separator", ErrMalformedLine)
	}

	handle := body[:bar]
	if handle == "" {
		return nil, fmt.Errorf("%w: empty status handle", ErrMalformedLine)
	}

	rest := strings.TrimSpace(body[bar+1:])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: status needs object type", ErrMalformedLine)
	}

	status := &Status{
		Handle: handle,
		Object: fields[0],
		Attrs:  make(map[string]string, len(fields)-1),
	}

	for _, tok := range fields[1:] {
		// A bare "removed" token destroys the object instead of updating it
		if tok == "removed" {
			status.Removed = true
			continue
		}
		key, value, found := strings.Cut(tok, "=")
		if !found {
			// Key without value, preserved with an empty value
			status.Attrs[key] = ""
			continue
		}
		status.Attrs[key] = value
	}

	return status, nil
}
