// Package metrics defines the Prometheus collectors exported by the engine.
//
// The engine increments these counters as a side effect of its normal
// bookkeeping; they never influence behavior. Consumers that want an HTTP
// /metrics endpoint register the collectors on their own registry and serve
// it themselves - the engine owns no HTTP surface.
package metrics
