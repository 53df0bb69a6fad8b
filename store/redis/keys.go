package redis

// Redis key naming conventions. All keys are prefixed with "stepflow:" to
// avoid collisions. Throttle keys are built by the throttle package itself
// and pass through the KV unmodified.

const keyPrefix = "stepflow:"

// workerKey returns the key for a worker entity: stepflow:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID.
const leaderKey = keyPrefix + "leader"
