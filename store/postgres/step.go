package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

const stepColumns = `
	id, name, queue, args, block, idx, child_block,
	state, priority, max_retries, retry_count, double_check,
	result, error_message, error_trace, worker_id,
	run_at, started_at, completed_at, heartbeat_at,
	duration, timeout, created_at, updated_at`

// EnqueueStep persists a new step in pending state.
func (s *Store) EnqueueStep(ctx context.Context, st *step.Step) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_steps (
			id, name, queue, args, block, idx, child_block,
			state, priority, max_retries, retry_count, double_check,
			result, error_message, error_trace, worker_id,
			run_at, started_at, completed_at, heartbeat_at,
			duration, timeout, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24
		)`,
		st.ID, st.Name, st.Queue, st.Args, st.Block, st.Index, st.ChildBlock,
		string(st.State), st.Priority, st.MaxRetries, st.RetryCount, st.DoubleCheck,
		st.Result, st.ErrorMessage, st.ErrorTrace, st.WorkerID,
		st.RunAt, st.StartedAt, st.CompletedAt, st.HeartbeatAt,
		st.Duration.Nanoseconds(), st.Timeout.Nanoseconds(),
		st.CreatedAt, st.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrStepAlreadyExists
		}
		return fmt.Errorf("stepflow/postgres: enqueue step: %w", err)
	}
	return nil
}

// DequeueSteps atomically claims up to limit runnable steps from the given
// queues, marks them dispatched, and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED so concurrent workers never claim the same step; ordering is
// priority (descending), then block position, then run time.
func (s *Store) DequeueSteps(ctx context.Context, queues []string, limit int) ([]*step.Step, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE stepflow_steps
			SET state = 'dispatched', updated_at = NOW()
			WHERE id IN (
				SELECT id FROM stepflow_steps
				WHERE state = 'pending'
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, idx ASC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+stepColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, idx ASC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: dequeue steps: %w", err)
	}
	defer rows.Close()

	return collectSteps(rows)
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID id.StepID) (*step.Step, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM stepflow_steps WHERE id = $1`,
		stepID,
	)

	st, err := scanStep(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrStepNotFound
		}
		return nil, fmt.Errorf("stepflow/postgres: get step: %w", err)
	}
	return st, nil
}

// UpdateStep persists changes to an existing step.
func (s *Store) UpdateStep(ctx context.Context, st *step.Step) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_steps SET
			name = $2, queue = $3, args = $4, block = $5, idx = $6,
			child_block = $7, state = $8, priority = $9,
			max_retries = $10, retry_count = $11, double_check = $12,
			result = $13, error_message = $14, error_trace = $15,
			worker_id = $16, run_at = $17, started_at = $18,
			completed_at = $19, heartbeat_at = $20,
			duration = $21, timeout = $22, updated_at = NOW()
		WHERE id = $1`,
		st.ID, st.Name, st.Queue, st.Args, st.Block, st.Index,
		st.ChildBlock, string(st.State), st.Priority,
		st.MaxRetries, st.RetryCount, st.DoubleCheck,
		st.Result, st.ErrorMessage, st.ErrorTrace,
		st.WorkerID, st.RunAt, st.StartedAt,
		st.CompletedAt, st.HeartbeatAt,
		st.Duration.Nanoseconds(), st.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrStepNotFound
	}
	return nil
}

// DeleteStep removes a step by ID.
func (s *Store) DeleteStep(ctx context.Context, stepID id.StepID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_steps WHERE id = $1`, stepID)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: delete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrStepNotFound
	}
	return nil
}

// ListStepsByState returns steps matching the given state.
func (s *Store) ListStepsByState(ctx context.Context, state step.State, opts step.ListOpts) ([]*step.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM stepflow_steps WHERE state = $1`
	args := []interface{}{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list steps by state: %w", err)
	}
	defer rows.Close()

	return collectSteps(rows)
}

// ListStepsByBlock returns all steps sharing a block grouping key, ordered
// by position within the block.
func (s *Store) ListStepsByBlock(ctx context.Context, block id.BlockID) ([]*step.Step, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM stepflow_steps WHERE block = $1 ORDER BY idx ASC`,
		block,
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list steps by block: %w", err)
	}
	defer rows.Close()

	return collectSteps(rows)
}

// HeartbeatStep updates the heartbeat timestamp for a running step.
func (s *Store) HeartbeatStep(ctx context.Context, stepID id.StepID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_steps
		SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW()
		WHERE id = $1`,
		stepID, workerID,
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: heartbeat step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrStepNotFound
	}
	return nil
}

// ReapStaleSteps returns dispatched or running steps whose last heartbeat
// is older than the given threshold.
func (s *Store) ReapStaleSteps(ctx context.Context, threshold time.Duration) ([]*step.Step, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+stepColumns+`
		FROM stepflow_steps
		WHERE state IN ('dispatched', 'running')
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: reap stale steps: %w", err)
	}
	defer rows.Close()

	return collectSteps(rows)
}

// CountSteps returns the number of steps matching the given options.
func (s *Store) CountSteps(ctx context.Context, opts step.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM stepflow_steps WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("stepflow/postgres: count steps: %w", err)
	}
	return count, nil
}

// scanStep scans a single step row.
func scanStep(row pgx.Row) (*step.Step, error) {
	var (
		st         step.Step
		stateStr   string
		durationNs int64
		timeoutNs  int64
	)
	err := row.Scan(
		&st.ID, &st.Name, &st.Queue, &st.Args, &st.Block, &st.Index, &st.ChildBlock,
		&stateStr, &st.Priority, &st.MaxRetries, &st.RetryCount, &st.DoubleCheck,
		&st.Result, &st.ErrorMessage, &st.ErrorTrace, &st.WorkerID,
		&st.RunAt, &st.StartedAt, &st.CompletedAt, &st.HeartbeatAt,
		&durationNs, &timeoutNs, &st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	st.State = step.State(stateStr)
	st.Duration = time.Duration(durationNs)
	st.Timeout = time.Duration(timeoutNs)

	return &st, nil
}

// collectSteps collects all steps from query rows.
func collectSteps(rows pgx.Rows) ([]*step.Step, error) {
	var steps []*step.Step
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan step row: %w", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepflow/postgres: iterate step rows: %w", err)
	}
	return steps, nil
}
