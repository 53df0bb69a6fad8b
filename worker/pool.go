package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// Executor runs one dequeued step to completion. The engine's runner is
// the production implementation.
type Executor interface {
	Execute(ctx context.Context, s *step.Step) error
}

// QueueManager controls local per-queue and per-account rate limiting and
// concurrency. The pool calls Acquire before executing a dequeued step
// and Release after execution completes.
type QueueManager interface {
	// Acquire reports whether the step may proceed under the queue and
	// account limits, reserving a slot when it may.
	Acquire(queue, account string) bool
	// Release frees the slot for the queue/account pair.
	Release(queue, account string)
}

// Pool manages a set of concurrent worker goroutines that poll for steps
// and execute them through the Executor.
type Pool struct {
	store        step.Store
	executor     Executor
	concurrency  int
	queues       []string
	pollInterval time.Duration
	workerID     id.WorkerID
	account      string
	logger       *slog.Logger

	// Heartbeat / reaper configuration.
	heartbeatInterval  time.Duration
	staleStepThreshold time.Duration

	queueManager QueueManager

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	activeSteps map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolQueues sets the queues the pool will poll.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) {
		if len(queues) > 0 {
			p.queues = queues
		}
	}
}

// WithPollInterval sets how often workers poll for runnable steps.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets how often the pool heartbeats its active
// steps. A zero value disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleStepThreshold sets how long a running step may go without a
// heartbeat before the reaper returns it to pending. A zero value
// disables reaping.
func WithStaleStepThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleStepThreshold = d }
}

// WithQueueManager sets the local queue manager for rate limiting and
// concurrency control.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// WithAccount sets the account this worker dispatches under, used as the
// queue manager's account scope.
func WithAccount(account string) PoolOption {
	return func(p *Pool) { p.account = account }
}

// NewPool creates a worker pool.
func NewPool(store step.Store, executor Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		executor:     executor,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeSteps:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleStepThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}

	return nil
}

// Stop signals all workers to stop and waits for them to finish. If the
// context has a deadline, active steps are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active steps")
		p.cancelActiveSteps()
		p.wg.Wait()
	}

	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		steps, err := p.store.DequeueSteps(context.Background(), p.queues, 1)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if len(steps) == 0 {
			p.sleep()
			continue
		}

		s := steps[0]

		// Local queue limits apply before any distributed check: a worker
		// that burst-drains its own slice of a shared window wastes it.
		if p.queueManager != nil && !p.queueManager.Acquire(s.Queue, p.account) {
			p.requeue(s)
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.trackStep(s.ID.String(), cancel)

		if execErr := p.executor.Execute(ctx, s); execErr != nil {
			p.logger.Error("step execution error",
				slog.String("step_id", s.ID.String()),
				slog.String("step_name", s.Name),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackStep(s.ID.String())
		cancel()

		if p.queueManager != nil {
			p.queueManager.Release(s.Queue, p.account)
		}
	}
}

// requeue returns a locally rate-limited step to pending with a small
// delay so another worker (or a later poll) can pick it up.
func (p *Pool) requeue(s *step.Step) {
	if err := step.Requeue(s); err != nil {
		p.logger.Error("failed to requeue rate-limited step",
			slog.String("step_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.RunAt = time.Now().UTC().Add(p.pollInterval)
	if err := p.store.UpdateStep(context.Background(), s); err != nil {
		p.logger.Error("failed to requeue rate-limited step",
			slog.String("step_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically heartbeats all active steps.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	stepIDs := make([]string, 0, len(p.activeSteps))
	for stepID := range p.activeSteps {
		stepIDs = append(stepIDs, stepID)
	}
	p.activeMu.Unlock()

	for _, raw := range stepIDs {
		stepID, parseErr := id.ParseStepID(raw)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid step id", slog.String("step_id", raw))
			continue
		}
		if err := p.store.HeartbeatStep(context.Background(), stepID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("step_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop periodically returns stale steps to pending. A stale step is
// one claimed by a worker that stopped heartbeating, i.e. crashed; the
// reload-and-check in the executor makes the rare double-execution that
// can result harmless.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleStepThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleSteps()
		}
	}
}

func (p *Pool) reapStaleSteps() {
	stale, err := p.store.ReapStaleSteps(context.Background(), p.staleStepThreshold)
	if err != nil {
		p.logger.Error("reap stale steps error", slog.String("error", err.Error()))
		return
	}

	for _, s := range stale {
		if rqErr := step.Requeue(s); rqErr != nil {
			p.logger.Error("reap: stale step not requeueable",
				slog.String("step_id", s.ID.String()),
				slog.String("error", rqErr.Error()),
			)
			continue
		}
		s.RunAt = time.Now().UTC()

		if updateErr := p.store.UpdateStep(context.Background(), s); updateErr != nil {
			p.logger.Error("reap: failed to reset stale step",
				slog.String("step_id", s.ID.String()),
				slog.String("error", updateErr.Error()),
			)
			continue
		}

		p.logger.Info("reaped stale step",
			slog.String("step_id", s.ID.String()),
			slog.String("step_name", s.Name),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackStep(stepID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeSteps[stepID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackStep(stepID string) {
	p.activeMu.Lock()
	delete(p.activeSteps, stepID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveSteps() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for stepID, cancel := range p.activeSteps {
		p.logger.Warn("cancelling active step", slog.String("step_id", stepID))
		cancel()
	}
}
