// Package cluster provides distributed worker coordination: leader
// election, worker registration, and dead-worker reaping.
//
// When running multiple stepflow instances against a shared store, the
// cluster package coordinates which instance is the leader (responsible
// for cron firing and stale-step recovery) and which are followers.
//
// # Worker Entity
//
// Each running stepflow instance registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of queues it polls
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead and its
// in-flight steps are eligible for reassignment.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader:
//   - fires cron entries
//   - reclaims stale steps from dead workers
//
// Leadership is managed by [Store.AcquireLeadership] with a TTL.
// If leadership is lost mid-operation, [stepflow.ErrLeadershipLost]
// is returned by callers that detect it.
package cluster
