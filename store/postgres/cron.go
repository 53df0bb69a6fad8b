package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/cron"
	"github.com/martingalian/stepflow/id"
)

// RegisterCron persists a new cron entry. Returns ErrDuplicateCron if the
// name already exists.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_cron_entries (
			id, name, schedule, step_name, queue, args,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID, entry.Name, entry.Schedule, entry.StepName, entry.Queue, entry.Args,
		entry.LastRunAt, entry.NextRunAt, nilIfEmpty(entry.LockedBy), entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrDuplicateCron
		}
		return fmt.Errorf("stepflow/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, name, schedule, step_name, queue, args,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		FROM stepflow_cron_entries
		WHERE id = $1`,
		entryID,
	)

	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrCronNotFound
		}
		return nil, fmt.Errorf("stepflow/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, name, schedule, step_name, queue, args,
			last_run_at, next_run_at, locked_by, locked_until,
			enabled, created_at, updated_at
		FROM stepflow_cron_entries
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("stepflow/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock attempts to acquire a distributed lock for a cron entry.
// A single conditional UPDATE succeeds when no lock is held, the lock has
// expired, or this worker already holds it.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)
	wID := workerID.String()

	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by IS NULL OR locked_until < $4 OR locked_by = $2)`,
		entryID, wID, until, now,
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: acquire cron lock: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		existErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM stepflow_cron_entries WHERE id = $1)`,
			entryID,
		).Scan(&exists)
		if existErr != nil {
			return false, fmt.Errorf("stepflow/postgres: check cron exists: %w", existErr)
		}
		if !exists {
			return false, stepflow.ErrCronNotFound
		}
		// Entry exists but lock is held by someone else.
		return false, nil
	}

	return true, nil
}

// ReleaseCronLock releases the distributed lock for a cron entry.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE stepflow_cron_entries
		SET locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_cron_entries
		SET last_run_at = $2, updated_at = NOW()
		WHERE id = $1`,
		entryID, at,
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_cron_entries SET
			name = $2, schedule = $3, step_name = $4, queue = $5, args = $6,
			last_run_at = $7, next_run_at = $8,
			locked_by = $9, locked_until = $10,
			enabled = $11, updated_at = NOW()
		WHERE id = $1`,
		entry.ID, entry.Name, entry.Schedule, entry.StepName, entry.Queue, entry.Args,
		entry.LastRunAt, entry.NextRunAt,
		nilIfEmpty(entry.LockedBy), entry.LockedUntil,
		entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_cron_entries WHERE id = $1`, entryID)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// scanCron scans a single cron entry row.
func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e      cron.Entry
		lockBy *string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Schedule, &e.StepName, &e.Queue, &e.Args,
		&e.LastRunAt, &e.NextRunAt, &lockBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lockBy != nil {
		e.LockedBy = *lockBy
	}

	return &e, nil
}
