// Package throttle implements the cross-process dispatch gate shared by
// every worker in the fleet. Coordination happens exclusively through a
// key-value store with per-key expiry — no locks — so any worker can
// consume or observe budget at any time.
//
// The [Limiter] layers four independent checks, evaluated in order:
//
//  1. Ban marker: a provider-issued hard ban recorded for the shared
//     source identity short-circuits everything else.
//  2. Fixed-window counter: dispatches per provider window.
//  3. Header-driven quota: live usage parsed from provider response
//     metadata, compared against a static limit table and a safety
//     threshold.
//  4. Minimum inter-dispatch delay.
//
// Any positive wait is topped with ceil(retryCount^1.5)+jitter seconds to
// desynchronize competing workers that keep colliding with the same limit.
//
// The limiter fails open: if the coordination store is unreachable, steps
// dispatch as if unthrottled. A store outage must not stall the fleet.
package throttle
