package protocol

import (
	"fmt"
	"strings"
)

// Required keys of a discovery announcement. A datagram missing any of
// these is malformed and must be dropped.
var requiredAnnounceKeys = []string{"serial", "model", "ip"}

// Recognized optional announcement keys (others are preserved untouched):
// nickname, version, port, status.

// MissingKeyError reports a discovery announcement that lacks a required key.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("announcement missing required key %q", e.Key)
}

// ParseAnnouncement parses a discovery broadcast datagram into its key=value
// tokens. Tokens are delimited by any mix of spaces, tabs and newlines;
// tokens without '=' and unknown keys are preserved. An announcement missing
// a required key returns a *MissingKeyError.
func ParseAnnouncement(datagram []byte) (map[string]string, error) {
	fields := strings.Fields(string(datagram))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty announcement", ErrMalformedLine)
	}

	attrs := make(map[string]string, len(fields))
	for _, tok := range fields {
		key, value, found := strings.Cut(tok, "=")
		if !found {
			attrs[key] = ""
			continue
		}
		attrs[key] = value
	}

	for _, key := range requiredAnnounceKeys {
		if attrs[key] == "" {
			return nil, &MissingKeyError{Key: key}
		}
	}

	return attrs, nil
}
