// Package state holds the object registry and the status synchronizer that
// feeds it.
//
// The registry maps (radio, kind, handle) to a domain object whose
// attributes are an open string-keyed bag. The far end never sends a
// complete snapshot: objects are created implicitly by the first status
// line referencing their handle, updated by partial diffs, and destroyed by
// explicit removal lines or by their radio's disconnect. Unknown object
// types and unknown attribute keys pass through untouched, so old clients
// keep working against new firmware.
//
// # Write Discipline
//
// Exactly one Synchronizer writes a given radio's objects, applying status
// lines in arrival order. Everything else reads: Get and List return
// copies, and each radio's objects sit behind their own lock so readers of
// one radio never wait on writers of another.
//
// # Subscriptions
//
// Subscribe replays the current registry contents as Created changes
// before delivering incremental changes, so subscription order carries no
// correctness burden. Delivery is buffered with drop-oldest overflow - a
// stalled observer loses history, never stalls the synchronizer.
//
// # Teardown
//
// Synchronizer.Drop clears a radio's objects atomically and emits one
// Deleted change per object. Observers never see connected-looking state
// after a disconnect.
package state
