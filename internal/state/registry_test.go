package state

import (
	"testing"

	"github.com/sdrkit/flexlink/internal/protocol"
)

func status(handle, object string, attrs map[string]string) *protocol.Status {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &protocol.Status{Handle: handle, Object: object, Attrs: attrs}
}

func removal(handle, object string) *protocol.Status {
	return &protocol.Status{Handle: handle, Object: object, Removed: true, Attrs: map[string]string{}}
}

func drainChanges(sub *Subscription) []Change {
	var out []Change
	for {
		select {
		case ch := <-sub.C:
			out = append(out, ch)
		default:
			return out
		}
	}
}

func TestSynchronizer_ImplicitCreateAndMerge(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("radio1", reg)

	sync.Apply(status("0x1", "slice", map[string]string{"freq": "14.200", "mode": "USB"}))
	sync.Apply(status("0x1", "slice", map[string]string{"freq": "7.074"}))
	sync.Apply(status("0x1", "slice", map[string]string{"rx_ant": "ANT1"}))

	obj, ok := reg.Get("radio1", KindSlice, "0x1")
	if !ok {
		t.Fatal("slice not created")
	}

	// Final bag is the union of all keys with each key's latest value
	want := map[string]string{"freq": "7.074", "mode": "USB", "rx_ant": "ANT1"}
	for k, v := range want {
		if got := obj.Attrs[k]; got != v {
			t.Errorf("attrs[%q] = %q, want %q", k, got, v)
		}
	}

	if f, ok := obj.Float("freq"); !ok || f != 7.074 {
		t.Errorf("Float(freq) = %v, %v", f, ok)
	}
}

func TestSynchronizer_ConvergenceRegardlessOfBatching(t *testing.T) {
	// The same updates split differently across lines end in the same state
	batched := NewRegistry()
	s1 := NewSynchronizer("r", batched)
	s1.Apply(status("1", "panadapter", map[string]string{"center": "14.1", "span": "0.2", "stream_id": "0x40000002"}))

	split := NewRegistry()
	s2 := NewSynchronizer("r", split)
	s2.Apply(status("1", "panadapter", map[string]string{"center": "14.0"}))
	s2.Apply(status("1", "panadapter", map[string]string{"span": "0.2"}))
	s2.Apply(status("1", "panadapter", map[string]string{"center": "14.1", "stream_id": "0x40000002"}))

	a, _ := batched.Get("r", KindPanadapter, "1")
	b, _ := split.Get("r", KindPanadapter, "1")

	if len(a.Attrs) != len(b.Attrs) {
		t.Fatalf("diverged: %v vs %v", a.Attrs, b.Attrs)
	}
	for k, v := range a.Attrs {
		if b.Attrs[k] != v {
			t.Errorf("diverged on %q: %q vs %q", k, v, b.Attrs[k])
		}
	}

	if id, ok := b.StreamID("stream_id"); !ok || id != 0x40000002 {
		t.Errorf("StreamID() = 0x%08x, %v", id, ok)
	}
}

func TestSynchronizer_IdempotentApply(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)
	sub := reg.Subscribe("r", 16)
	defer reg.Unsubscribe(sub.ID)

	line := status("0x2", "meter", map[string]string{"level": "-73"})
	sync.Apply(line)
	sync.Apply(line) // second application must have no side effects

	changes := drainChanges(sub)
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1 (Created only)", len(changes))
	}
	if changes[0].Kind != Created {
		t.Errorf("change kind = %v, want Created", changes[0].Kind)
	}
}

func TestSynchronizer_UnknownKeysPreserved(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)

	sync.Apply(status("1", "slice", map[string]string{"freq": "14.2"}))
	sync.Apply(status("1", "slice", map[string]string{"firmware_only_knob": "42"}))

	obj, _ := reg.Get("r", KindSlice, "1")
	if obj.Attrs["freq"] != "14.2" {
		t.Error("known key disturbed by unknown-key update")
	}
	if obj.Attrs["firmware_only_knob"] != "42" {
		t.Error("unknown key not added to the bag")
	}
}

func TestSynchronizer_CoercionFailureSkipsOnlyThatKey(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)

	sync.Apply(status("1", "slice", map[string]string{
		"freq": "not-a-number",
		"mode": "CW",
	}))

	obj, ok := reg.Get("r", KindSlice, "1")
	if !ok {
		t.Fatal("object should still be created")
	}
	if _, present := obj.Attrs["freq"]; present {
		t.Error("uncoercible freq should have been skipped")
	}
	if obj.Attrs["mode"] != "CW" {
		t.Error("remaining keys should still apply")
	}
}

func TestSynchronizer_Removal(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)
	sub := reg.Subscribe("r", 16)
	defer reg.Unsubscribe(sub.ID)

	sync.Apply(status("5", "notch", map[string]string{"freq": "600"}))
	sync.Apply(removal("5", "notch"))
	sync.Apply(removal("5", "notch")) // double removal is a no-op

	if _, ok := reg.Get("r", KindNotch, "5"); ok {
		t.Error("object survived removal")
	}

	changes := drainChanges(sub)
	if len(changes) != 2 {
		t.Fatalf("got %d changes, want Created+Deleted", len(changes))
	}
	if changes[1].Kind != Deleted {
		t.Errorf("changes[1] = %v, want Deleted", changes[1].Kind)
	}
}

func TestRegistry_SubscribeReplaysSnapshot(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)

	sync.Apply(status("1", "slice", map[string]string{"freq": "14.2"}))
	sync.Apply(status("2", "slice", map[string]string{"freq": "7.0"}))

	// Late subscriber still sees both objects, as Created changes, before
	// any incremental change
	sub := reg.Subscribe("r", 16)
	defer reg.Unsubscribe(sub.ID)

	sync.Apply(status("1", "slice", map[string]string{"freq": "14.3"}))

	changes := drainChanges(sub)
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 2 replayed + 1 incremental", len(changes))
	}
	if changes[0].Kind != Created || changes[1].Kind != Created {
		t.Error("replay changes should be Created")
	}
	if changes[2].Kind != Updated || len(changes[2].Keys) != 1 || changes[2].Keys[0] != "freq" {
		t.Errorf("incremental change = %+v", changes[2])
	}
}

func TestRegistry_SubscribeFiltersByRadio(t *testing.T) {
	reg := NewRegistry()
	syncA := NewSynchronizer("a", reg)
	syncB := NewSynchronizer("b", reg)

	subA := reg.Subscribe("a", 16)
	defer reg.Unsubscribe(subA.ID)
	subAll := reg.Subscribe("", 16)
	defer reg.Unsubscribe(subAll.ID)

	syncA.Apply(status("1", "slice", map[string]string{"freq": "1"}))
	syncB.Apply(status("1", "slice", map[string]string{"freq": "2"}))

	if got := len(drainChanges(subA)); got != 1 {
		t.Errorf("radio-scoped subscriber got %d changes, want 1", got)
	}
	if got := len(drainChanges(subAll)); got != 2 {
		t.Errorf("all-radio subscriber got %d changes, want 2", got)
	}
}

func TestRegistry_DropRadio(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)
	other := NewSynchronizer("other", reg)

	for _, h := range []string{"1", "2", "3"} {
		sync.Apply(status(h, "slice", map[string]string{"freq": "14.2"}))
	}
	other.Apply(status("1", "meter", map[string]string{"level": "-90"}))

	sub := reg.Subscribe("r", 16)
	drainChanges(sub) // discard the replay
	defer reg.Unsubscribe(sub.ID)

	sync.Drop()

	// Exactly N removal notifications, and the shard is empty immediately
	changes := drainChanges(sub)
	if len(changes) != 3 {
		t.Fatalf("got %d changes, want 3 Deleted", len(changes))
	}
	for _, ch := range changes {
		if ch.Kind != Deleted {
			t.Errorf("change = %v, want Deleted", ch.Kind)
		}
	}
	if objs := reg.List("r", KindSlice); len(objs) != 0 {
		t.Errorf("registry not empty after drop: %v", objs)
	}

	// Other radios are untouched
	if _, ok := reg.Get("other", KindMeter, "1"); !ok {
		t.Error("drop of one radio disturbed another")
	}

	// Dropping again is a no-op
	sync.Drop()
	if got := len(drainChanges(sub)); got != 0 {
		t.Errorf("second drop emitted %d changes", got)
	}
}

func TestRegistry_GetReturnsCopies(t *testing.T) {
	reg := NewRegistry()
	sync := NewSynchronizer("r", reg)
	sync.Apply(status("1", "slice", map[string]string{"freq": "14.2"}))

	obj, _ := reg.Get("r", KindSlice, "1")
	obj.Attrs["freq"] = "tampered"

	fresh, _ := reg.Get("r", KindSlice, "1")
	if fresh.Attrs["freq"] != "14.2" {
		t.Error("mutating a returned object leaked into the registry")
	}
}

func TestObject_Accessors(t *testing.T) {
	obj := Object{Kind: KindPanadapter, Handle: "0x40000002", Attrs: map[string]string{
		"stream_id": "0x40000abc",
		"size":      "4096",
		"wide":      "1",
		"label":     "20m",
	}}

	if id, ok := obj.StreamID("stream_id"); !ok || id != 0x40000abc {
		t.Errorf("StreamID = 0x%x, %v", id, ok)
	}
	if n, ok := obj.Int("size"); !ok || n != 4096 {
		t.Errorf("Int = %d, %v", n, ok)
	}
	if b, ok := obj.Bool("wide"); !ok || !b {
		t.Errorf("Bool = %v, %v", b, ok)
	}
	if _, ok := obj.Float("label"); ok {
		t.Error("Float on non-numeric should fail")
	}
	if _, ok := obj.Get("absent"); ok {
		t.Error("absent key should report not-yet-known")
	}
	if obj.ID() != "panadapter/0x40000002" {
		t.Errorf("ID() = %q", obj.ID())
	}
}
