package state

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a domain object type. Kinds are the object-type tokens of
// status lines; tokens this package has no constant for still work, which
// keeps old clients functional against new firmware.
type Kind string

// Object kinds announced by current firmware
const (
	KindSlice       Kind = "slice"       // receiver/transmitter channel
	KindMeter       Kind = "meter"       // signal/level meter
	KindPanadapter  Kind = "panadapter"  // spectrum display
	KindWaterfall   Kind = "waterfall"   // waterfall display
	KindMemory      Kind = "memory"      // stored frequency memory
	KindEqualizer   Kind = "eq"          // equalizer
	KindNotch       Kind = "notch"       // notch filter
	KindTransverter Kind = "xvtr"        // transverter
	KindCable       Kind = "usb_cable"   // generic cable control
)

// Object is one domain object: a (kind, handle) identity plus an open
// string-keyed attribute bag. Status updates carry only changed keys, so a
// bag is never assumed complete - every read tolerates "not yet known".
//
// Objects handed out by the Registry are copies; mutating one affects
// nothing.
type Object struct {
	Kind   Kind
	Handle string
	Attrs  map[string]string
}

// ID returns the (kind, handle) identity as a single token
func (o Object) ID() string {
	return fmt.Sprintf("%s/%s", o.Kind, o.Handle)
}

// Get returns an attribute value and whether it has arrived yet
func (o Object) Get(key string) (string, bool) {
	v, ok := o.Attrs[key]
	return v, ok
}

// Float reads an attribute as a float64. Returns false when the key is
// absent or not numeric.
func (o Object) Float(key string) (float64, bool) {
	v, ok := o.Attrs[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int reads an attribute as an int64, accepting decimal or 0x-prefixed hex
// (handles and stream ids are conventionally hex on the wire).
func (o Object) Int(key string) (int64, bool) {
	v, ok := o.Attrs[key]
	if !ok {
		return 0, false
	}
	n, err := parseWireNumber(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Bool reads an attribute as a boolean ("1"/"0", "true"/"false", "T"/"F")
func (o Object) Bool(key string) (bool, bool) {
	v, ok := o.Attrs[key]
	if !ok {
		return false, false
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "on":
		return true, true
	case "0", "false", "f", "off":
		return false, true
	default:
		return false, false
	}
}

// StreamID reads an attribute as a stream identifier
func (o Object) StreamID(key string) (uint32, bool) {
	n, ok := o.Int(key)
	if !ok || n <= 0 || n > int64(^uint32(0)) {
		return 0, false
	}
	return uint32(n), true
}

// parseWireNumber parses decimal or 0x-prefixed hex integers
func parseWireNumber(s string) (int64, error) {
	if rest, found := strings.CutPrefix(s, "0x"); found {
		u, err := strconv.ParseUint(rest, 16, 64)
		return int64(u), err
	}
	return strconv.ParseInt(s, 10, 64)
}

// clone returns a deep copy of the object
func (o Object) clone() Object {
	attrs := make(map[string]string, len(o.Attrs))
	for k, v := range o.Attrs {
		attrs[k] = v
	}
	return Object{Kind: o.Kind, Handle: o.Handle, Attrs: attrs}
}
