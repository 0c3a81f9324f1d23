package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ChangeKind classifies a registry change notification
type ChangeKind int

const (
	// Created fires on the first status line referencing a handle
	Created ChangeKind = iota
	// Updated fires when one or more attribute values actually changed
	Updated
	// Deleted fires on an explicit removal or a radio teardown
	Deleted
)

// String returns the change kind name
func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Change is one registry change notification. Object is a copy taken at
// the moment of the change; Keys lists the attribute keys that changed
// (sorted), and is nil for Created and Deleted.
type Change struct {
	RadioID string
	Kind    ChangeKind
	Object  Object
	Keys    []string
}

// Subscription is a registered observer of registry changes
type Subscription struct {
	// ID uniquely identifies the subscription for Unsubscribe
	ID uuid.UUID

	// C delivers change notifications. Closed by Unsubscribe.
	C <-chan Change

	radioID string
	ch      chan Change
}

// defaultSubscriptionBuffer is the change channel capacity when the
// requested buffer is zero
const defaultSubscriptionBuffer = 128

type objectKey struct {
	Kind   Kind
	Handle string
}

// shard holds one radio's objects behind its own lock, so readers of one
// radio never contend with writers of another.
type shard struct {
	mu      sync.RWMutex
	objects map[objectKey]*Object
}

// Registry is the in-memory source of truth for domain objects, scoped per
// radio. Reads and subscriptions are open to any goroutine; mutations come
// only from a radio's Synchronizer, which applies status lines in arrival
// order. Objects returned by Get and List are copies.
type Registry struct {
	mu     sync.RWMutex
	shards map[string]*shard
	subs   map[uuid.UUID]*Subscription
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		shards: make(map[string]*shard),
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Get returns a copy of one object, if its handle has been sighted
func (r *Registry) Get(radioID string, kind Kind, handle string) (Object, bool) {
	r.mu.RLock()
	sh := r.shards[radioID]
	r.mu.RUnlock()
	if sh == nil {
		return Object{}, false
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	obj, ok := sh.objects[objectKey{Kind: kind, Handle: handle}]
	if !ok {
		return Object{}, false
	}
	return obj.clone(), true
}

// List returns copies of every object of one kind under a radio
func (r *Registry) List(radioID string, kind Kind) []Object {
	r.mu.RLock()
	sh := r.shards[radioID]
	r.mu.RUnlock()
	if sh == nil {
		return nil
	}

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	var out []Object
	for key, obj := range sh.objects {
		if key.Kind == kind {
			out = append(out, obj.clone())
		}
	}
	return out
}

// Subscribe registers an observer for one radio's changes, or for all
// radios when radioID is empty. The current contents of the registry are
// replayed as Created changes before any subsequent incremental change, so
// late subscribers miss nothing. Delivery never blocks a writer: when the
// channel is full the oldest queued change is dropped.
func (r *Registry) Subscribe(radioID string, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Snapshot first so the replay fits the buffer whole
	var snapshot []Change
	for id, sh := range r.shards {
		if radioID != "" && id != radioID {
			continue
		}
		sh.mu.RLock()
		for _, obj := range sh.objects {
			snapshot = append(snapshot, Change{
				RadioID: id,
				Kind:    Created,
				Object:  obj.clone(),
			})
		}
		sh.mu.RUnlock()
	}

	if buffer < len(snapshot) {
		buffer = len(snapshot)
	}

	sub := &Subscription{
		ID:      uuid.New(),
		radioID: radioID,
		ch:      make(chan Change, buffer),
	}
	sub.C = sub.ch

	for _, ch := range snapshot {
		sub.ch <- ch
	}

	r.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes an observer and closes its channel. Idempotent.
func (r *Registry) Unsubscribe(id uuid.UUID) {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
	}
	r.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// notify fans a change out to matching subscribers without blocking
func (r *Registry) notify(change Change) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if sub.radioID != "" && sub.radioID != change.RadioID {
			continue
		}
		select {
		case sub.ch <- change:
			continue
		default:
		}
		// Full: drop the oldest queued change to make room
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
}

// apply merges attribute updates into an object, creating it on first
// sighting. Returns silently when nothing changed, which makes reapplying
// the same update a no-op.
func (r *Registry) apply(radioID string, kind Kind, handle string, attrs map[string]string) {
	r.mu.Lock()
	sh := r.shards[radioID]
	if sh == nil {
		sh = &shard{objects: make(map[objectKey]*Object)}
		r.shards[radioID] = sh
	}
	r.mu.Unlock()

	key := objectKey{Kind: kind, Handle: handle}

	sh.mu.Lock()
	obj, exists := sh.objects[key]
	if !exists {
		obj = &Object{Kind: kind, Handle: handle, Attrs: make(map[string]string, len(attrs))}
		sh.objects[key] = obj
	}

	var changed []string
	for k, v := range attrs {
		if old, ok := obj.Attrs[k]; !ok || old != v {
			obj.Attrs[k] = v
			changed = append(changed, k)
		}
	}
	snapshot := obj.clone()
	sh.mu.Unlock()

	if !exists {
		r.notify(Change{RadioID: radioID, Kind: Created, Object: snapshot})
		return
	}
	if len(changed) == 0 {
		return
	}
	sort.Strings(changed)
	r.notify(Change{RadioID: radioID, Kind: Updated, Object: snapshot, Keys: changed})
}

// remove deletes one object, notifying once if it existed
func (r *Registry) remove(radioID string, kind Kind, handle string) {
	r.mu.RLock()
	sh := r.shards[radioID]
	r.mu.RUnlock()
	if sh == nil {
		return
	}

	key := objectKey{Kind: kind, Handle: handle}

	sh.mu.Lock()
	obj, ok := sh.objects[key]
	if ok {
		delete(sh.objects, key)
	}
	sh.mu.Unlock()

	if ok {
		r.notify(Change{RadioID: radioID, Kind: Deleted, Object: obj.clone()})
	}
}

// dropRadio atomically clears a radio's shard, notifying Deleted once per
// object. Called on session teardown so observers never see stale
// connected-looking state.
func (r *Registry) dropRadio(radioID string) {
	r.mu.Lock()
	sh := r.shards[radioID]
	delete(r.shards, radioID)
	r.mu.Unlock()
	if sh == nil {
		return
	}

	sh.mu.Lock()
	objects := make([]Object, 0, len(sh.objects))
	for _, obj := range sh.objects {
		objects = append(objects, obj.clone())
	}
	sh.objects = make(map[objectKey]*Object)
	sh.mu.Unlock()

	for _, obj := range objects {
		r.notify(Change{RadioID: radioID, Kind: Deleted, Object: obj})
	}
}
