// Package guard models the engine's precondition chain as an ordered list
// of guard objects. The engine evaluates the chain strictly in order and
// short-circuits on the first non-pass outcome; each outcome maps to one
// state transition (stop, fail, skip) or one reschedule flavor (retry,
// throttle).
package guard

import (
	"context"
	"time"

	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/throttle"
)

// Kind is a guard outcome.
type Kind int

const (
	// Pass lets the chain continue.
	Pass Kind = iota
	// Stop aborts the workflow with no error.
	Stop
	// Fail marks a hard precondition violation (silent, non-alerting).
	Fail
	// Skip bypasses the step as a successful no-op.
	Skip
	// Retry defers the step, consuming retry budget.
	Retry
	// Throttle defers the step for Wait without consuming retry budget.
	Throttle
)

// String returns the outcome name for logs.
func (k Kind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Stop:
		return "stop"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	case Retry:
		return "retry"
	case Throttle:
		return "throttle"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating one guard.
type Result struct {
	Kind Kind
	// Wait is the reschedule delay for Throttle outcomes.
	Wait time.Duration
	// Reason describes why the guard fired, recorded on the step.
	Reason string
}

// Guard is one precondition in the chain.
type Guard interface {
	// Name identifies the guard in logs and step error fields.
	Name() string
	// Evaluate inspects the step and reports an outcome. Errors abort the
	// chain and route through the engine's failure handling.
	Evaluate(ctx context.Context, s *step.Step) (Result, error)
}

// Chain is an ordered guard list.
type Chain []Guard

// Evaluate runs the chain in order and returns the first non-pass result
// together with the name of the guard that produced it.
func (c Chain) Evaluate(ctx context.Context, s *step.Step) (Result, string, error) {
	for _, g := range c {
		res, err := g.Evaluate(ctx, s)
		if err != nil {
			return Result{}, g.Name(), err
		}
		if res.Kind != Pass {
			return res, g.Name(), nil
		}
	}
	return Result{Kind: Pass}, "", nil
}

// ──────────────────────────────────────────────────
// Predicate guards (stop / fail / skip / retry)
// ──────────────────────────────────────────────────

// predicate adapts a registered business predicate to the Guard interface.
type predicate struct {
	name  string
	kind  Kind
	check step.CheckFunc
}

// NewPredicate wraps a business predicate: when check returns true the
// guard fires with the given kind. A nil check always passes.
func NewPredicate(name string, kind Kind, check step.CheckFunc) Guard {
	return &predicate{name: name, kind: kind, check: check}
}

func (p *predicate) Name() string { return p.name }

func (p *predicate) Evaluate(ctx context.Context, s *step.Step) (Result, error) {
	if p.check == nil {
		return Result{Kind: Pass}, nil
	}
	fired, err := p.check(ctx, s.Args)
	if err != nil {
		return Result{}, err
	}
	if !fired {
		return Result{Kind: Pass}, nil
	}
	return Result{Kind: p.kind, Reason: p.name + " guard fired"}, nil
}

// ──────────────────────────────────────────────────
// Throttle guard (API steps only)
// ──────────────────────────────────────────────────

// throttleGuard consults the distributed limiter. Throttling reports
// provider unavailability, not job failure, so its outcome never consumes
// retry budget.
type throttleGuard struct {
	limiter *throttle.Limiter
	policy  throttle.Policy
	ident   throttle.Identity
}

// NewThrottle creates the throttle guard for one provider policy and the
// worker's resolved source identity.
func NewThrottle(limiter *throttle.Limiter, policy throttle.Policy, ident throttle.Identity) Guard {
	return &throttleGuard{limiter: limiter, policy: policy, ident: ident}
}

func (g *throttleGuard) Name() string { return "throttle" }

func (g *throttleGuard) Evaluate(ctx context.Context, s *step.Step) (Result, error) {
	wait := g.limiter.CanDispatch(ctx, g.policy, g.ident, s.RetryCount)
	if wait <= 0 {
		return Result{Kind: Pass}, nil
	}
	return Result{Kind: Throttle, Wait: wait, Reason: "provider throttled"}, nil
}

// ──────────────────────────────────────────────────
// Max-retries guard
// ──────────────────────────────────────────────────

// maxRetries fails the step once its retry budget is exhausted. It sits
// after the throttle guard so rate-limit waits never starve a legitimate
// retry budget.
type maxRetries struct{}

// NewMaxRetries creates the retry-budget guard.
func NewMaxRetries() Guard { return maxRetries{} }

func (maxRetries) Name() string { return "max-retries" }

func (maxRetries) Evaluate(_ context.Context, s *step.Step) (Result, error) {
	if s.MaxRetries > 0 && s.RetryCount > s.MaxRetries {
		return Result{Kind: Fail, Reason: "max retries exceeded"}, nil
	}
	return Result{Kind: Pass}, nil
}
