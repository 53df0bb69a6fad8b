// Package dlq provides the dead letter queue for steps that have exhausted
// their retry budget. It supports inspection, replay, and purging.
//
// When a step fails and MaxRetries has been reached, the engine calls
// [Service.Push] to move it into the DLQ. The original arguments, error
// message, and retry counts are preserved for debugging.
//
// # Entry
//
// A [Entry] captures:
//   - StepID / StepName / Queue: original step identity
//   - Args: the raw JSON arguments at time of failure
//   - Error: the final error message
//   - RetryCount / MaxRetries: exhausted retry budget
//   - Block / Index: the pipeline position the step held
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, stepStore)
//
//	// Push is called automatically by the engine on terminal failure.
//	svc.Push(ctx, failedStep, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// Replaying an entry re-enqueues the original step with the same
// arguments, a fresh ID, and a zeroed retry counter. Replay sets
// ReplayedAt on the DLQ entry.
package dlq
