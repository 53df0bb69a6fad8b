package dlq

import (
	"context"
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// Replay re-enqueues a DLQ entry as a new pending step and marks the
// entry as replayed. The new step gets a fresh ID, zero retry count,
// and runs immediately.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*step.Step, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	st := &step.Step{
		Entity:     stepflow.NewEntity(),
		ID:         id.NewStepID(),
		Name:       entry.StepName,
		Queue:      entry.Queue,
		Args:       entry.Args,
		Block:      entry.Block,
		Index:      entry.Index,
		State:      step.StatePending,
		MaxRetries: entry.MaxRetries,
		RunAt:      now,
	}

	if err := s.stepStore.EnqueueStep(ctx, st); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The step is already enqueued. Surface the marking error but
		// return the step so callers can still track it.
		return st, err
	}

	return st, nil
}
