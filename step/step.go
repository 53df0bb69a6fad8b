package step

import (
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/id"
)

// State represents the lifecycle state of a step.
type State string

const (
	// StatePending means the step is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateDispatched means the step has been claimed from the queue but
	// has not begun executing yet.
	StateDispatched State = "dispatched"
	// StateRunning means a worker is currently executing the step.
	StateRunning State = "running"
	// StateCompleted means the step finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the step failed and will not be retried.
	StateFailed State = "failed"
	// StateCancelled means the step was explicitly cancelled before running.
	StateCancelled State = "cancelled"
	// StateSkipped means a business condition bypassed the step.
	StateSkipped State = "skipped"
	// StateStopped means the stop guard ended the workflow without error.
	StateStopped State = "stopped"
	// StateNotRunnable means the step is parked and must be reset to
	// pending before it can be dispatched.
	StateNotRunnable State = "not_runnable"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateSkipped, StateStopped:
		return true
	}
	return false
}

// Step represents one persisted unit of work inside a block (an ordered
// pipeline instance). A step is owned exclusively by the engine while
// executing and persisted by the surrounding system between attempts.
type Step struct {
	stepflow.Entity

	ID    id.StepID `json:"id"`
	Name  string    `json:"name"`
	Queue string    `json:"queue"`
	Args  []byte    `json:"args"`

	// Block groups ordered steps into one pipeline instance; Index is the
	// step's position inside it. ChildBlock links to a nested pipeline
	// spawned by this step.
	Block      id.BlockID `json:"block,omitempty"`
	Index      int        `json:"index"`
	ChildBlock id.BlockID `json:"child_block,omitempty"`

	State      State `json:"state"`
	Priority   int   `json:"priority"`
	MaxRetries int   `json:"max_retries"`
	RetryCount int   `json:"retry_count"`

	// DoubleCheck requests a re-verification pass without re-running the
	// business computation.
	DoubleCheck bool `json:"double_check"`

	Result       []byte `json:"result,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorTrace   string `json:"error_trace,omitempty"`

	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
