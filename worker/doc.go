// Package worker hosts the polling pool: a set of goroutines that pull
// dispatched steps from the step store and run them through an Executor,
// plus the heartbeat and stale-step reaper loops that make crashed workers
// recoverable.
//
// The pool is deliberately ignorant of execution semantics. It claims
// work, enforces local queue limits, and hands the step to the executor;
// everything else (guards, throttling, classification) lives behind the
// Executor interface.
package worker
