package step

import "context"

// Predicate is a typed business condition consulted by a guard.
// Returning true means the guard fires.
type Predicate[T any] func(ctx context.Context, args T) (bool, error)

// Guards bundles the optional business predicates evaluated ahead of the
// computation, in the fixed order stop, fail, skip, retry. A nil predicate
// always passes.
type Guards[T any] struct {
	// Stop ends the whole pipeline with no error.
	Stop Predicate[T]
	// Fail marks a hard precondition violation (silent, non-alerting).
	Fail Predicate[T]
	// Skip bypasses this step as a successful no-op.
	Skip Predicate[T]
	// Retry defers the step without treating the deferral as an error.
	Retry Predicate[T]
}

// Definition is a typed step definition. T is the argument type (must be
// JSON-serializable).
type Definition[T any] struct {
	// Name is the unique work-kind selector for this step type.
	Name string

	// Compute runs the business logic and returns the result payload.
	Compute func(ctx context.Context, args T) ([]byte, error)

	// Verify optionally re-checks the outcome before the step is declared
	// complete. A non-nil error leaves the step non-terminal for the next
	// scheduled attempt.
	Verify func(ctx context.Context, args T) error

	// Confirm optionally switches the step to confirm-then-retry mode:
	// when set and the step carries the double-check flag, the engine runs
	// only this check. True closes the step out; false reschedules another
	// confirmation attempt.
	Confirm func(ctx context.Context, args T) (bool, error)

	// Guards are the business predicates for the guard chain.
	Guards Guards[T]

	// Provider names the external provider this step calls, if any.
	// Non-empty enables the ban pre-check and throttle guard.
	Provider string

	// Opts configures retries, queue, priority, and timeout.
	Opts Options
}

// NewDefinition creates a typed step definition.
func NewDefinition[T any](name string, compute func(ctx context.Context, args T) ([]byte, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:    name,
		Compute: compute,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
