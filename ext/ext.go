package ext

import (
	"context"
	"time"

	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepEnqueued is called after a step is successfully enqueued.
type StepEnqueued interface {
	OnStepEnqueued(ctx context.Context, s *step.Step) error
}

// StepStarted is called when a worker begins executing a step.
type StepStarted interface {
	OnStepStarted(ctx context.Context, s *step.Step) error
}

// StepCompleted is called after a step finishes successfully.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) error
}

// StepFailed is called when a step fails terminally (no more retries).
type StepFailed interface {
	OnStepFailed(ctx context.Context, s *step.Step, err error) error
}

// StepRetrying is called when a step fails but is scheduled for retry.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, s *step.Step, attempt int, nextRunAt time.Time) error
}

// StepThrottled is called when the throttle limiter reschedules a step.
// Throttle reschedules do not consume the step's retry budget.
type StepThrottled interface {
	OnStepThrottled(ctx context.Context, s *step.Step, wait time.Duration) error
}

// StepDLQ is called when a step is moved to the dead letter queue.
type StepDLQ interface {
	OnStepDLQ(ctx context.Context, s *step.Step, err error) error
}

// ──────────────────────────────────────────────────
// Throttle hooks
// ──────────────────────────────────────────────────

// ProviderBanned is called when a provider reports an active ban window
// and dispatch to it is suspended.
type ProviderBanned interface {
	OnProviderBanned(ctx context.Context, providerName string, until time.Time) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron entry fires and enqueues a step.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, stepID id.StepID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
