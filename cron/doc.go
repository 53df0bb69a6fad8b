// Package cron provides distributed cron scheduling with leader election.
//
// Cron entries are stored in the shared store and fired only by the
// cluster leader. This guarantees at-most-once firing even when multiple
// stepflow instances are running.
//
// # Entry
//
// An [Entry] represents a recurring step schedule:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5")
//   - StepName: the registered step definition to enqueue when fired
//   - Queue: target queue (defaults to "default")
//   - Args: static JSON arguments passed to every triggered step
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # Registering a Cron
//
// Use engine.RegisterCron to add a cron entry at startup:
//
//	engine.RegisterCron(ctx, eng, "rotate-keys", "0 9 * * *",
//	    RotateKeys, RotateInput{Scope: "all"})
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires a
// distributed lock on each entry, enqueues the corresponding step, and
// updates LastRunAt and NextRunAt. The [ext.CronFired] extension hook
// fires after each enqueue.
package cron
