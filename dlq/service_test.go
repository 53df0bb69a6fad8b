package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/dlq"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/store/memory"
)

func newFailedStep(name string, args []byte) *step.Step {
	now := time.Now().UTC()
	return &step.Step{
		Entity:       stepflow.NewEntity(),
		ID:           id.NewStepID(),
		Name:         name,
		Queue:        "default",
		Args:         args,
		Block:        id.NewBlockID(),
		Index:        2,
		State:        step.StateFailed,
		MaxRetries:   3,
		RetryCount:   3,
		ErrorMessage: "test error",
		RunAt:        now,
	}
}

func TestService_Push_BuildsEntryFromStep(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	st := newFailedStep("settle-trade", []byte(`{"order":"ord_1"}`))
	stepErr := errors.New("venue timeout")

	if err := svc.Push(ctx, st, stepErr); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.StepID != st.ID {
		t.Errorf("StepID = %v, want %v", entry.StepID, st.ID)
	}
	if entry.StepName != "settle-trade" {
		t.Errorf("StepName = %q, want %q", entry.StepName, "settle-trade")
	}
	if entry.Queue != "default" {
		t.Errorf("Queue = %q, want %q", entry.Queue, "default")
	}
	if string(entry.Args) != `{"order":"ord_1"}` {
		t.Errorf("Args = %q", entry.Args)
	}
	if entry.Error != "venue timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "venue timeout")
	}
	if entry.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", entry.RetryCount)
	}
	if entry.Block != st.Block {
		t.Errorf("Block = %v, want %v", entry.Block, st.Block)
	}
	if entry.Index != 2 {
		t.Errorf("Index = %d, want 2", entry.Index)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		st := newFailedStep("step-"+string(rune('a'+i)), nil)
		if err := svc.Push(ctx, st, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewPendingStep(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newFailedStep("replay-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed step should have a new ID")
	}
	if replayed.State != step.StatePending {
		t.Errorf("State = %q, want %q", replayed.State, step.StatePending)
	}
	if replayed.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", replayed.RetryCount)
	}
	if replayed.Name != "replay-me" {
		t.Errorf("Name = %q, want %q", replayed.Name, "replay-me")
	}
	if string(replayed.Args) != `{"key":"value"}` {
		t.Errorf("Args = %q", replayed.Args)
	}
	if replayed.Block != original.Block {
		t.Errorf("Block = %v, want %v", replayed.Block, original.Block)
	}

	// Verify the step exists in the step store.
	got, err := s.GetStep(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got.State != step.StatePending {
		t.Errorf("stored step State = %q, want %q", got.State, step.StatePending)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	st := newFailedStep("replay-mark", nil)
	if err := svc.Push(ctx, st, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	_, err := svc.Replay(ctx, id.NewDLQID())
	if !errors.Is(err, stepflow.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}
