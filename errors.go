package stepflow

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("stepflow: no store configured")
	ErrStoreClosed     = errors.New("stepflow: store closed")
	ErrMigrationFailed = errors.New("stepflow: migration failed")

	// Not found errors.
	ErrStepNotFound   = errors.New("stepflow: step not found")
	ErrDLQNotFound    = errors.New("stepflow: dlq entry not found")
	ErrCronNotFound   = errors.New("stepflow: cron entry not found")
	ErrWorkerNotFound = errors.New("stepflow: worker not found")
	ErrKeyNotFound    = errors.New("stepflow: key not found")

	// Conflict errors.
	ErrStepAlreadyExists = errors.New("stepflow: step already exists")
	ErrDuplicateCron     = errors.New("stepflow: duplicate cron entry")

	// State errors.
	ErrInvalidTransition  = errors.New("stepflow: invalid state transition")
	ErrTerminalState      = errors.New("stepflow: step is in a terminal state")
	ErrMaxRetriesExceeded = errors.New("stepflow: max retries exceeded")
	ErrNoHandler          = errors.New("stepflow: no handler registered")
	ErrUnknownProvider    = errors.New("stepflow: unknown provider")

	// Bulk write errors.
	ErrWriteConflict = errors.New("stepflow: bulk write conflict")

	// Cluster errors.
	ErrLeadershipLost = errors.New("stepflow: leadership lost")
	ErrNotLeader      = errors.New("stepflow: not the leader")
)
