package store

import (
	"context"

	"github.com/martingalian/stepflow/cluster"
	"github.com/martingalian/stepflow/cron"
	"github.com/martingalian/stepflow/dlq"
	"github.com/martingalian/stepflow/step"
)

// Store is the aggregate persistence interface. Each subsystem store is a
// composable interface; a single backend implements all of them.
type Store interface {
	step.Store
	cron.Store
	dlq.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
