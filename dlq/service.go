package dlq

import (
	"context"
	"time"

	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store     Store
	stepStore step.Store
}

// NewService creates a DLQ service.
func NewService(store Store, stepStore step.Store) *Service {
	return &Service{store: store, stepStore: stepStore}
}

// Push builds a DLQ Entry from a failed step and persists it.
// The error string is captured from the original handler error.
func (s *Service) Push(ctx context.Context, st *step.Step, stepErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:         id.NewDLQID(),
		StepID:     st.ID,
		StepName:   st.Name,
		Queue:      st.Queue,
		Args:       st.Args,
		Error:      stepErr.Error(),
		RetryCount: st.RetryCount,
		MaxRetries: st.MaxRetries,
		Block:      st.Block,
		Index:      st.Index,
		FailedAt:   now,
		CreatedAt:  now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
