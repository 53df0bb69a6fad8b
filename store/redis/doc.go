// Package redis backs the coordination-layer contracts with Redis: the
// distributed throttle's key-value store and the cluster worker registry
// with leader election.
//
// Step, cron, and DLQ records belong in the relational store
// (store/postgres); Redis holds only the ephemeral coordination state
// that every worker must observe with low latency — window counters,
// quota signals, ban markers, last-dispatch timestamps, worker liveness,
// and the leader lock.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	kv := redisstore.NewKV(client)
//	reg := redisstore.New(client)
package redis
