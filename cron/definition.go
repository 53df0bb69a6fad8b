package cron

// Definition is a typed cron definition. T is the argument type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// StepName is the name of the step to enqueue on each tick.
	StepName string

	// Args is the default argument value to enqueue with the step.
	Args T

	// Queue overrides the default step queue (optional).
	Queue string
}
