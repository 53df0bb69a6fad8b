// Package queue implements local dispatch smoothing: token-bucket rate
// limits and concurrency caps per queue and per account, applied by the
// worker pool before a step executes.
//
// This layer is process-local and sits underneath the distributed
// throttle. The distributed limiter budgets the whole fleet against a
// provider; the queue manager keeps one worker from burst-draining its
// own slice of that shared budget.
package queue
