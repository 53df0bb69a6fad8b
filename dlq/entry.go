package dlq

import (
	"time"

	"github.com/martingalian/stepflow/id"
)

// Entry represents a step that has exhausted its retry budget and been
// moved to the dead letter queue for inspection or replay.
type Entry struct {
	ID         id.DLQID   `json:"id"`
	StepID     id.StepID  `json:"step_id"`
	StepName   string     `json:"step_name"`
	Queue      string     `json:"queue"`
	Args       []byte     `json:"args"`
	Error      string     `json:"error"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`
	Block      id.BlockID `json:"block,omitempty"`
	Index      int        `json:"index"`
	FailedAt   time.Time  `json:"failed_at"`
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
