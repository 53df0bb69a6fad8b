package step

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// ComputeFunc is a type-erased business computation over raw JSON args.
type ComputeFunc func(ctx context.Context, args []byte) ([]byte, error)

// CheckFunc is a type-erased boolean predicate over raw JSON args.
type CheckFunc func(ctx context.Context, args []byte) (bool, error)

// VerifyFunc is a type-erased verification pass over raw JSON args.
type VerifyFunc func(ctx context.Context, args []byte) error

// Handler is the type-erased form of a Definition, produced at registration
// time by closing over JSON unmarshal and the typed functions. Nil fields
// mean the corresponding phase or guard is absent.
type Handler struct {
	Name     string
	Provider string

	Compute ComputeFunc
	Verify  VerifyFunc
	Confirm CheckFunc

	Stop  CheckFunc
	Fail  CheckFunc
	Skip  CheckFunc
	Retry CheckFunc

	Opts Options
}

// Registry maps work-kind names to type-erased handlers.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*Handler
}

// NewRegistry creates an empty step registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]*Handler),
	}
}

// RegisterDefinition registers a typed step definition. Every typed
// function is wrapped in a closure that JSON-unmarshals the args into T
// before delegating.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	h := &Handler{
		Name:     def.Name,
		Provider: def.Provider,
		Opts:     def.Opts,
	}

	decode := func(args []byte) (T, error) {
		var t T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t); err != nil {
				return t, fmt.Errorf("unmarshal args for step %q: %w", def.Name, err)
			}
		}
		return t, nil
	}

	if def.Compute != nil {
		compute := def.Compute
		h.Compute = func(ctx context.Context, args []byte) ([]byte, error) {
			t, err := decode(args)
			if err != nil {
				return nil, err
			}
			return compute(ctx, t)
		}
	}

	if def.Verify != nil {
		verify := def.Verify
		h.Verify = func(ctx context.Context, args []byte) error {
			t, err := decode(args)
			if err != nil {
				return err
			}
			return verify(ctx, t)
		}
	}

	if def.Confirm != nil {
		h.Confirm = wrapCheck(decode, def.Confirm)
	}
	if def.Guards.Stop != nil {
		h.Stop = wrapCheck(decode, def.Guards.Stop)
	}
	if def.Guards.Fail != nil {
		h.Fail = wrapCheck(decode, def.Guards.Fail)
	}
	if def.Guards.Skip != nil {
		h.Skip = wrapCheck(decode, def.Guards.Skip)
	}
	if def.Guards.Retry != nil {
		h.Retry = wrapCheck(decode, def.Guards.Retry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = h
}

func wrapCheck[T any](decode func([]byte) (T, error), check Predicate[T]) CheckFunc {
	return func(ctx context.Context, args []byte) (bool, error) {
		t, err := decode(args)
		if err != nil {
			return false, err
		}
		return check(ctx, t)
	}
}

// Get returns the handler for the given work-kind name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered work-kind names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
