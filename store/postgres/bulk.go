package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/martingalian/stepflow"
)

// BatchFunc performs one batch of writes inside a transaction that holds
// the partition's advisory lock.
type BatchFunc func(ctx context.Context, tx pgx.Tx) error

// BulkWriter serializes heavy concurrent batch writers per partition key.
// Each batch runs in a transaction holding a transaction-scoped advisory
// lock on the partition, so two writers of the same partition never
// interleave; writers of different partitions proceed in parallel. Lock
// contention and serialization conflicts are retried with exponential
// backoff up to a bounded attempt count.
//
// This path is for high-frequency writes unrelated to step state (bulk
// market data, rollups). Step state transitions never take advisory locks.
type BulkWriter struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	maxAttempts int
	baseDelay   time.Duration
	parallelism int
}

// BulkOption configures a BulkWriter.
type BulkOption func(*BulkWriter)

// WithBulkLogger sets the logger.
func WithBulkLogger(l *slog.Logger) BulkOption {
	return func(w *BulkWriter) { w.logger = l }
}

// WithBulkMaxAttempts bounds the retry loop per batch.
func WithBulkMaxAttempts(n int) BulkOption {
	return func(w *BulkWriter) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBulkBaseDelay sets the first backoff delay; each subsequent attempt
// doubles it.
func WithBulkBaseDelay(d time.Duration) BulkOption {
	return func(w *BulkWriter) {
		if d > 0 {
			w.baseDelay = d
		}
	}
}

// WithBulkParallelism caps how many partitions WriteAll works concurrently.
func WithBulkParallelism(n int) BulkOption {
	return func(w *BulkWriter) {
		if n > 0 {
			w.parallelism = n
		}
	}
}

// NewBulkWriter creates a BulkWriter over the given pool.
func NewBulkWriter(pool *pgxpool.Pool, opts ...BulkOption) *BulkWriter {
	w := &BulkWriter{
		pool:        pool,
		logger:      slog.Default(),
		maxAttempts: 5,
		baseDelay:   50 * time.Millisecond,
		parallelism: 8,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write runs fn in a transaction holding the advisory lock for partition.
// If the lock is contended or the transaction hits a serialization
// conflict, the whole batch is retried with exponential backoff. Returns
// ErrWriteConflict once attempts are exhausted.
func (w *BulkWriter) Write(ctx context.Context, partition string, fn BatchFunc) error {
	lockID := partitionLockID(partition)
	delay := w.baseDelay

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		acquired, err := w.tryWrite(ctx, lockID, fn)
		if err != nil {
			if isSerializationFailure(err) {
				w.logger.Debug("bulk write conflict, retrying",
					"partition", partition, "attempt", attempt, "error", err)
			} else {
				return fmt.Errorf("stepflow/postgres: bulk write %s: %w", partition, err)
			}
		} else if acquired {
			return nil
		} else {
			w.logger.Debug("bulk partition lock contended, retrying",
				"partition", partition, "attempt", attempt)
		}

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("stepflow/postgres: bulk write %s after %d attempts: %w",
		partition, w.maxAttempts, stepflow.ErrWriteConflict)
}

// tryWrite runs one attempt. Returns acquired=false (no error) when the
// partition lock is held by another writer.
func (w *BulkWriter) tryWrite(ctx context.Context, lockID int64, fn BatchFunc) (bool, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var acquired bool
	if err = tx.QueryRow(ctx,
		`SELECT pg_try_advisory_xact_lock($1)`, lockID,
	).Scan(&acquired); err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	if err = fn(ctx, tx); err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// WriteAll fans batches out across partitions, bounded by the configured
// parallelism. The first failed partition cancels the rest.
func (w *BulkWriter) WriteAll(ctx context.Context, batches map[string]BatchFunc) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.parallelism)

	for partition, fn := range batches {
		g.Go(func() error {
			return w.Write(gctx, partition, fn)
		})
	}

	return g.Wait()
}

// partitionLockID maps a partition key onto the advisory lock keyspace.
func partitionLockID(partition string) int64 {
	h := fnv.New64a()
	h.Write([]byte(partition)) //nolint:errcheck // fnv Write never fails
	return int64(h.Sum64())    //nolint:gosec // wraparound is fine for lock identity
}
