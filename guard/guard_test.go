package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/martingalian/stepflow/guard"
	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/store/memory"
	"github.com/martingalian/stepflow/throttle"
)

func fires(v bool) step.CheckFunc {
	return func(context.Context, []byte) (bool, error) { return v, nil }
}

func TestChain_ShortCircuitsInOrder(t *testing.T) {
	s := &step.Step{State: step.StateRunning}

	chain := guard.Chain{
		guard.NewPredicate("stop", guard.Stop, fires(false)),
		guard.NewPredicate("fail", guard.Fail, fires(false)),
		guard.NewPredicate("skip", guard.Skip, fires(true)),
		guard.NewPredicate("retry", guard.Retry, fires(true)),
	}

	res, name, err := chain.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != guard.Skip {
		t.Errorf("kind = %s, want skip (first firing guard wins)", res.Kind)
	}
	if name != "skip" {
		t.Errorf("guard name = %q, want %q", name, "skip")
	}
}

func TestChain_AllPass(t *testing.T) {
	s := &step.Step{State: step.StateRunning}

	chain := guard.Chain{
		guard.NewPredicate("stop", guard.Stop, nil),
		guard.NewPredicate("fail", guard.Fail, fires(false)),
		guard.NewMaxRetries(),
	}

	res, _, err := chain.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != guard.Pass {
		t.Errorf("kind = %s, want pass", res.Kind)
	}
}

func TestChain_PredicateErrorAborts(t *testing.T) {
	want := errors.New("predicate exploded")
	s := &step.Step{State: step.StateRunning}

	chain := guard.Chain{
		guard.NewPredicate("stop", guard.Stop, func(context.Context, []byte) (bool, error) {
			return false, want
		}),
		guard.NewPredicate("skip", guard.Skip, fires(true)),
	}

	_, name, err := chain.Evaluate(context.Background(), s)
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if name != "stop" {
		t.Errorf("guard name = %q, want %q", name, "stop")
	}
}

func TestMaxRetries(t *testing.T) {
	g := guard.NewMaxRetries()

	tests := []struct {
		retryCount int
		maxRetries int
		want       guard.Kind
	}{
		{0, 3, guard.Pass},
		{3, 3, guard.Pass},
		{4, 3, guard.Fail},
		{100, 0, guard.Pass}, // zero budget disables the ceiling
	}
	for _, tt := range tests {
		s := &step.Step{RetryCount: tt.retryCount, MaxRetries: tt.maxRetries}
		res, err := g.Evaluate(context.Background(), s)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Kind != tt.want {
			t.Errorf("retry=%d max=%d: kind = %s, want %s",
				tt.retryCount, tt.maxRetries, res.Kind, tt.want)
		}
	}
}

func TestThrottleGuard(t *testing.T) {
	kv := memory.NewKV()
	lim := throttle.NewLimiter(kv, throttle.WithJitter(func() float64 { return 0 }))
	ident := throttle.Identity{SourceIP: "10.0.0.1"}
	policy := throttle.Policy{Provider: "binance", Window: 10 * time.Second, RequestsPerWindow: 1}

	g := guard.NewThrottle(lim, policy, ident)
	s := &step.Step{State: step.StateRunning}

	res, err := g.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != guard.Pass {
		t.Fatalf("kind = %s, want pass with budget available", res.Kind)
	}

	lim.RecordDispatch(context.Background(), policy, ident)

	res, err = g.Evaluate(context.Background(), s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kind != guard.Throttle {
		t.Fatalf("kind = %s, want throttle with budget exhausted", res.Kind)
	}
	if res.Wait <= 0 || res.Wait > 10*time.Second {
		t.Errorf("wait = %v, want in (0, 10s]", res.Wait)
	}
}
