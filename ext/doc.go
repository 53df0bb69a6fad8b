// Package ext defines the extension system for stepflow.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting notifications, writing audit trails, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnStepCompleted(ctx context.Context, s *step.Step, elapsed time.Duration) error {
//	    log.Printf("step %s completed in %s", s.ID, elapsed)
//	    return nil
//	}
//
// # Step Lifecycle Hooks
//
//   - [StepEnqueued] — step was accepted for execution
//   - [StepStarted] — worker began executing the step
//   - [StepCompleted] — step finished successfully
//   - [StepFailed] — step failed with no retries remaining
//   - [StepRetrying] — step failed but will be retried
//   - [StepThrottled] — step was rescheduled by the throttle limiter
//   - [StepDLQ] — step was moved to the dead letter queue
//
// # Throttle Hooks
//
//   - [ProviderBanned] — a provider reported an active ban window
//
// # Other Hooks
//
//   - [CronFired] — a cron entry was triggered and a step was enqueued
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
