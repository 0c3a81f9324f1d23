package state

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/sdrkit/flexlink/internal/logging"
	"github.com/sdrkit/flexlink/internal/protocol"
)

// numericAttrs are the wire attributes the engine itself reads as numbers.
// Values that fail to parse are skipped at apply time instead of poisoning
// later reads. Everything else in the bag is opaque to the core.
var numericAttrs = map[string]bool{
	"freq":      true,
	"stream_id": true,
	"port":      true,
	"size":      true,
	"rate":      true,
}

// coercible reports whether a value parses as an integer (decimal or hex)
// or as a float
func coercible(value string) bool {
	if _, err := parseWireNumber(value); err == nil {
		return true
	}
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

// Synchronizer applies one radio's status-line stream to the registry. It
// is the registry's only writer for that radio, and it applies lines
// strictly in arrival order, so any split of attribute updates across lines
// converges to the same final state.
type Synchronizer struct {
	radioID string
	reg     *Registry
}

// NewSynchronizer creates the single writer for one radio's objects
func NewSynchronizer(radioID string, reg *Registry) *Synchronizer {
	return &Synchronizer{radioID: radioID, reg: reg}
}

// Apply merges one status line into the registry: creation is implicit on
// the first sighting of a handle, updates merge only the keys present, and
// removal lines delete the object. Reapplying the same line is a no-op.
func (s *Synchronizer) Apply(status *protocol.Status) {
	kind := Kind(status.Object)

	if status.Removed {
		s.reg.remove(s.radioID, kind, status.Handle)
		return
	}

	attrs := status.Attrs
	var skipped []string
	for key, value := range status.Attrs {
		if numericAttrs[key] && !coercible(value) {
			skipped = append(skipped, key)
			// Coercion failure skips the key; the line's other keys still apply
			logging.Warn("Skipping uncoercible attribute",
				zap.String("radio", s.radioID),
				zap.String("object", status.Object),
				zap.String("handle", status.Handle),
				zap.String("key", key),
				zap.String("value", value),
			)
		}
	}
	if len(skipped) > 0 {
		filtered := make(map[string]string, len(status.Attrs))
		for k, v := range status.Attrs {
			filtered[k] = v
		}
		for _, k := range skipped {
			delete(filtered, k)
		}
		attrs = filtered
	}

	s.reg.apply(s.radioID, kind, status.Handle, attrs)
}

// Drop clears every object this radio owns. Called once when the owning
// session leaves the Connected state.
func (s *Synchronizer) Drop() {
	s.reg.dropRadio(s.radioID)
}
