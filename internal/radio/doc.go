// Package radio assembles the engine: discovery, per-radio command
// sessions, the shared object registry, and the stream decoder, owned and
// torn down together.
//
// The engine enforces the coupling the pieces rely on. Each connected
// radio's status feed drives exactly one registry writer, and when a
// session ends, locally or by transport failure, that radio's objects are
// cleared before anything else observes the disconnect. Discovery and
// stream reception share one engine-wide socket each; sessions are
// per-radio.
package radio
