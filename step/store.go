package step

import (
	"context"
	"time"

	"github.com/martingalian/stepflow/id"
)

// ListOpts controls pagination and filtering for step list queries.
type ListOpts struct {
	// Limit is the maximum number of steps to return. Zero means no limit.
	Limit int
	// Offset is the number of steps to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for step count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by step state. Empty means all states.
	State State
}

// Store defines the persistence contract for steps.
//
// DequeueSteps is the at-least-once delivery point: it may hand the same
// step to two workers under rare races, which the engine's idempotency
// re-check makes harmless.
type Store interface {
	// EnqueueStep persists a new step in pending state.
	EnqueueStep(ctx context.Context, s *Step) error

	// DequeueSteps atomically claims up to limit runnable steps from the
	// given queues, marks them dispatched, and returns them. Steps are
	// ordered by priority (descending), then block position, then RunAt.
	DequeueSteps(ctx context.Context, queues []string, limit int) ([]*Step, error)

	// GetStep retrieves a step by ID.
	GetStep(ctx context.Context, stepID id.StepID) (*Step, error)

	// UpdateStep persists changes to an existing step.
	UpdateStep(ctx context.Context, s *Step) error

	// DeleteStep removes a step by ID.
	DeleteStep(ctx context.Context, stepID id.StepID) error

	// ListStepsByState returns steps matching the given state.
	ListStepsByState(ctx context.Context, state State, opts ListOpts) ([]*Step, error)

	// ListStepsByBlock returns all steps sharing a block grouping key,
	// ordered by Index ascending.
	ListStepsByBlock(ctx context.Context, block id.BlockID) ([]*Step, error)

	// HeartbeatStep updates the heartbeat timestamp for a running step,
	// indicating the worker is still alive.
	HeartbeatStep(ctx context.Context, stepID id.StepID, workerID id.WorkerID) error

	// ReapStaleSteps returns dispatched or running steps whose last
	// heartbeat is older than the given threshold, indicating the worker
	// may have crashed.
	ReapStaleSteps(ctx context.Context, threshold time.Duration) ([]*Step, error)

	// CountSteps returns the number of steps matching the given options.
	CountSteps(ctx context.Context, opts CountOpts) (int64, error)
}

// BlockHasFailure reports whether any step in the block reached a failed or
// cancelled state. Ordered pipelines use it as a fail-guard predicate: a
// later step must not run once an earlier sibling has failed.
func BlockHasFailure(ctx context.Context, store Store, block id.BlockID) (bool, error) {
	if block.IsNil() {
		return false, nil
	}
	steps, err := store.ListStepsByBlock(ctx, block)
	if err != nil {
		return false, err
	}
	for _, s := range steps {
		if s.State == StateFailed || s.State == StateCancelled {
			return true, nil
		}
	}
	return false, nil
}

// BlockCompleted reports whether every step in the block reached a
// successful terminal state (completed or skipped). Used to decide when a
// child block has finished before its parent step closes out.
func BlockCompleted(ctx context.Context, store Store, block id.BlockID) (bool, error) {
	if block.IsNil() {
		return true, nil
	}
	steps, err := store.ListStepsByBlock(ctx, block)
	if err != nil {
		return false, err
	}
	for _, s := range steps {
		if s.State != StateCompleted && s.State != StateSkipped {
			return false, nil
		}
	}
	return true, nil
}
