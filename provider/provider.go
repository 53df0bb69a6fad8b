// Package provider holds the per-provider behavior bundles: a throttle
// policy and an exception classification table, resolved by canonical name
// through a registry populated at startup. The registry replaces
// string-keyed factory switches so tests can install doubles without
// touching any dispatch code.
package provider

import (
	"fmt"
	"sync"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/classify"
	"github.com/martingalian/stepflow/throttle"
)

// Handler bundles everything the engine needs to call one external
// provider: its rate-limit policy and its error classification table.
// Handlers are constructed fresh per resolution and hold no state across
// calls.
type Handler struct {
	// Name is the provider's canonical name.
	Name string
	// Throttle parametrizes the distributed limiter for this provider.
	Throttle throttle.Policy
	// Classification decides retry/ignore/permanent/rate-limited for
	// errors reported by this provider's client.
	Classification *classify.Table
}

// Factory constructs a provider handler.
type Factory func() *Handler

// Registry maps canonical provider names to handler factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register installs a factory under the provider's canonical name.
// Re-registration replaces the previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Resolve constructs a handler for the given canonical name.
func (r *Registry) Resolve(name string) (*Handler, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", stepflow.ErrUnknownProvider, name)
	}
	return f(), nil
}

// Names returns all registered canonical names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
