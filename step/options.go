package step

import (
	"time"

	"github.com/martingalian/stepflow/id"
)

// Options configures per-step behavior such as retries, queue, and priority.
type Options struct {
	// MaxRetries is the retry budget consumed by retry-guard deferrals and
	// retryable failures. Throttle reschedules never consume it.
	MaxRetries int

	// Queue is the queue name this step should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// Timeout is the maximum duration a step may run before the supervisor
	// cancels it.
	Timeout time.Duration

	// RunAt schedules the step for future execution. Zero means immediate.
	RunAt time.Time

	// Block assigns the step to a pipeline instance; Index is its position.
	Block id.BlockID
	Index int

	// ChildBlock links a nested pipeline spawned by this step.
	ChildBlock id.BlockID

	// DoubleCheck requests a re-verification pass without re-running the
	// business computation.
	DoubleCheck bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Priority:   0,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for configuring a step definition.
type Option func(*Options)

// WithMaxRetries sets the retry budget.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithQueue sets the queue name for the step.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the step priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the step.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the step for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithBlock places the step at the given position inside a block.
func WithBlock(block id.BlockID, index int) Option {
	return func(o *Options) {
		o.Block = block
		o.Index = index
	}
}

// WithChildBlock links a nested pipeline spawned by this step.
func WithChildBlock(block id.BlockID) Option {
	return func(o *Options) {
		o.ChildBlock = block
	}
}

// WithDoubleCheck marks the step for a re-verification pass without
// re-running the business computation.
func WithDoubleCheck() Option {
	return func(o *Options) {
		o.DoubleCheck = true
	}
}
