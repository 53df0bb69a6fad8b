package cron

import (
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/id"
)

// Entry represents a scheduled recurring step.
type Entry struct {
	stepflow.Entity

	ID          id.CronID  `json:"id"`
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	StepName    string     `json:"step_name"`
	Queue       string     `json:"queue,omitempty"`
	Args        []byte     `json:"args,omitempty"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	Enabled     bool       `json:"enabled"`
}
