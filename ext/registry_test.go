package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnStepEnqueued(_ context.Context, _ *step.Step) error {
	e.calls = append(e.calls, "OnStepEnqueued")
	return nil
}

func (e *allHooksExt) OnStepStarted(_ context.Context, _ *step.Step) error {
	e.calls = append(e.calls, "OnStepStarted")
	return nil
}

func (e *allHooksExt) OnStepCompleted(_ context.Context, _ *step.Step, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepCompleted")
	return nil
}

func (e *allHooksExt) OnStepFailed(_ context.Context, _ *step.Step, _ error) error {
	e.calls = append(e.calls, "OnStepFailed")
	return nil
}

func (e *allHooksExt) OnStepRetrying(_ context.Context, _ *step.Step, _ int, _ time.Time) error {
	e.calls = append(e.calls, "OnStepRetrying")
	return nil
}

func (e *allHooksExt) OnStepThrottled(_ context.Context, _ *step.Step, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepThrottled")
	return nil
}

func (e *allHooksExt) OnStepDLQ(_ context.Context, _ *step.Step, _ error) error {
	e.calls = append(e.calls, "OnStepDLQ")
	return nil
}

func (e *allHooksExt) OnProviderBanned(_ context.Context, _ string, _ time.Time) error {
	e.calls = append(e.calls, "OnProviderBanned")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ id.StepID) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// enqueueOnlyExt only implements a subset of step hooks.
type enqueueOnlyExt struct {
	calls []string
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnStepEnqueued(_ context.Context, _ *step.Step) error {
	e.calls = append(e.calls, "OnStepEnqueued")
	return nil
}

func (e *enqueueOnlyExt) OnStepCompleted(_ context.Context, _ *step.Step, _ time.Duration) error {
	e.calls = append(e.calls, "OnStepCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnStepEnqueued(_ context.Context, _ *step.Step) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	eo := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(eo)

	ctx := context.Background()
	s := &step.Step{Name: "test-step"}

	// Both implement OnStepEnqueued → both called.
	r.EmitStepEnqueued(ctx, s)
	if len(all.calls) != 1 || all.calls[0] != "OnStepEnqueued" {
		t.Fatalf("all: expected [OnStepEnqueued], got %v", all.calls)
	}
	if len(eo.calls) != 1 || eo.calls[0] != "OnStepEnqueued" {
		t.Fatalf("eo: expected [OnStepEnqueued], got %v", eo.calls)
	}

	// Only all implements OnStepStarted → eo not called.
	r.EmitStepStarted(ctx, s)
	if len(all.calls) != 2 || all.calls[1] != "OnStepStarted" {
		t.Fatalf("all: expected OnStepStarted as 2nd, got %v", all.calls)
	}
	if len(eo.calls) != 1 {
		t.Fatalf("eo: should still have 1 call, got %v", eo.calls)
	}
}

func TestRegistry_AllStepHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	s := &step.Step{Name: "test-step"}

	r.EmitStepEnqueued(ctx, s)
	r.EmitStepStarted(ctx, s)
	r.EmitStepCompleted(ctx, s, time.Second)
	r.EmitStepFailed(ctx, s, errors.New("fail"))
	r.EmitStepRetrying(ctx, s, 1, time.Now())
	r.EmitStepThrottled(ctx, s, 3*time.Second)
	r.EmitStepDLQ(ctx, s, errors.New("dlq"))

	expected := []string{
		"OnStepEnqueued", "OnStepStarted", "OnStepCompleted",
		"OnStepFailed", "OnStepRetrying", "OnStepThrottled", "OnStepDLQ",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_BanCronAndShutdownHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	r.EmitProviderBanned(ctx, "binance", time.Now().Add(time.Minute))
	r.EmitCronFired(ctx, "rotate-keys", id.NewStepID())
	r.EmitShutdown(ctx)

	expected := []string{"OnProviderBanned", "OnCronFired", "OnShutdown"}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()
	s := &step.Step{Name: "test-step"}

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitStepEnqueued(ctx, s)

	if len(all.calls) != 1 || all.calls[0] != "OnStepEnqueued" {
		t.Fatalf("all: expected [OnStepEnqueued] after failing ext, got %v", all.calls)
	}

	r.EmitShutdown(ctx)
	if all.calls[len(all.calls)-1] != "OnShutdown" {
		t.Fatalf("expected OnShutdown to fire after failing ext, got %v", all.calls)
	}
}
