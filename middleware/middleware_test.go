package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/middleware"
	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/throttle"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *step.Step, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *step.Step, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	s := &step.Step{Name: "test", ID: id.NewStepID()}
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), s, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), &step.Step{ID: id.NewStepID()}, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *step.Step, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), &step.Step{ID: id.NewStepID()}, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	s := &step.Step{Name: "panicky", ID: id.NewStepID()}

	err := mw(context.Background(), s, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in step panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	s := &step.Step{Name: "normal", ID: id.NewStepID()}

	called := false
	err := mw(context.Background(), s, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	s := &step.Step{Name: "log-test", ID: id.NewStepID(), Queue: "default"}

	called := false
	err := mw(context.Background(), s, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	s := &step.Step{Name: "log-test", ID: id.NewStepID(), Queue: "default"}
	want := errors.New("fail")

	err := mw(context.Background(), s, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestIdentity_InjectsIntoContext(t *testing.T) {
	ident := throttle.Identity{SourceIP: "10.0.0.1", Account: "acct-7"}
	mw := middleware.Identity(ident)
	s := &step.Step{Name: "scoped", ID: id.NewStepID()}

	err := mw(context.Background(), s, func(ctx context.Context) error {
		got, ok := throttle.IdentityFromContext(ctx)
		if !ok {
			t.Fatal("expected identity in context")
		}
		if got.SourceIP != "10.0.0.1" {
			t.Errorf("SourceIP = %q, want %q", got.SourceIP, "10.0.0.1")
		}
		if got.Account != "acct-7" {
			t.Errorf("Account = %q, want %q", got.Account, "acct-7")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIdentity_AbsentWithoutMiddleware(t *testing.T) {
	_, ok := throttle.IdentityFromContext(context.Background())
	if ok {
		t.Fatal("expected no identity in bare context")
	}
}
