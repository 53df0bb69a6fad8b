package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type stepEnqueuedEntry struct {
	name string
	hook StepEnqueued
}

type stepStartedEntry struct {
	name string
	hook StepStarted
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type stepThrottledEntry struct {
	name string
	hook StepThrottled
}

type stepDLQEntry struct {
	name string
	hook StepDLQ
}

type providerBannedEntry struct {
	name string
	hook ProviderBanned
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	stepEnqueued   []stepEnqueuedEntry
	stepStarted    []stepStartedEntry
	stepCompleted  []stepCompletedEntry
	stepFailed     []stepFailedEntry
	stepRetrying   []stepRetryingEntry
	stepThrottled  []stepThrottledEntry
	stepDLQ        []stepDLQEntry
	providerBanned []providerBannedEntry
	cronFired      []cronFiredEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(StepEnqueued); ok {
		r.stepEnqueued = append(r.stepEnqueued, stepEnqueuedEntry{name, h})
	}
	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, stepStartedEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(StepThrottled); ok {
		r.stepThrottled = append(r.stepThrottled, stepThrottledEntry{name, h})
	}
	if h, ok := e.(StepDLQ); ok {
		r.stepDLQ = append(r.stepDLQ, stepDLQEntry{name, h})
	}
	if h, ok := e.(ProviderBanned); ok {
		r.providerBanned = append(r.providerBanned, providerBannedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepEnqueued notifies all extensions that implement StepEnqueued.
func (r *Registry) EmitStepEnqueued(ctx context.Context, s *step.Step) {
	for _, e := range r.stepEnqueued {
		if err := e.hook.OnStepEnqueued(ctx, s); err != nil {
			r.logHookError("OnStepEnqueued", e.name, err)
		}
	}
}

// EmitStepStarted notifies all extensions that implement StepStarted.
func (r *Registry) EmitStepStarted(ctx context.Context, s *step.Step) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, s); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, s, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, s *step.Step, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, s, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, s *step.Step, attempt int, nextRunAt time.Time) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, s, attempt, nextRunAt); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// EmitStepThrottled notifies all extensions that implement StepThrottled.
func (r *Registry) EmitStepThrottled(ctx context.Context, s *step.Step, wait time.Duration) {
	for _, e := range r.stepThrottled {
		if err := e.hook.OnStepThrottled(ctx, s, wait); err != nil {
			r.logHookError("OnStepThrottled", e.name, err)
		}
	}
}

// EmitStepDLQ notifies all extensions that implement StepDLQ.
func (r *Registry) EmitStepDLQ(ctx context.Context, s *step.Step, stepErr error) {
	for _, e := range r.stepDLQ {
		if err := e.hook.OnStepDLQ(ctx, s, stepErr); err != nil {
			r.logHookError("OnStepDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitProviderBanned notifies all extensions that implement ProviderBanned.
func (r *Registry) EmitProviderBanned(ctx context.Context, providerName string, until time.Time) {
	for _, e := range r.providerBanned {
		if err := e.hook.OnProviderBanned(ctx, providerName, until); err != nil {
			r.logHookError("OnProviderBanned", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, stepID id.StepID) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName, stepID); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
