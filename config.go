package stepflow

import "time"

// Config holds configuration for the Orchestrator.
type Config struct {
	// Concurrency is the maximum number of steps processed concurrently.
	Concurrency int

	// Queues is the list of queues this orchestrator will poll.
	Queues []string

	// PollInterval is how often to poll for runnable steps.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running steps send heartbeats.
	HeartbeatInterval time.Duration

	// StaleStepThreshold is how long before a running step without a
	// heartbeat is considered abandoned by a dead worker.
	StaleStepThreshold time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		Queues:             []string{"default"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleStepThreshold: 30 * time.Second,
	}
}
