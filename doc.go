// Package stepflow provides a distributed step execution core for Go. It
// drives persisted units of external-API work ("steps") through a guarded
// lifecycle across a fleet of independent worker processes, with
// cross-process rate limiting and pluggable error classification.
//
// Stepflow is designed as a library, not a service. Import it, configure a
// step store and a throttle coordination store, and register step handlers
// as ordinary Go functions.
//
// # Quick Start
//
//	o, err := stepflow.New(
//	    stepflow.WithStore(pgStore),
//	    stepflow.WithConcurrency(20),
//	)
//
// # Architecture
//
// Stepflow follows a composable store pattern where each subsystem (step,
// dlq, cron, cluster) defines its own store interface and a single backend
// implements all of them. Throttle coordination uses a separate key-value
// contract (get/put-with-TTL/forget) so it can live on a different medium
// than step state.
//
// Delivery is at-least-once: duplicate or racing delivery of a step id is
// tolerated by an idempotency re-check inside the engine, never by
// distributed locks.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package stepflow
