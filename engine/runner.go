package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/backoff"
	"github.com/martingalian/stepflow/classify"
	"github.com/martingalian/stepflow/dlq"
	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/guard"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/middleware"
	"github.com/martingalian/stepflow/provider"
	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/throttle"
)

// RunnerParams bundles the collaborators a Runner needs. Build fills this
// in; tests construct it directly over store/memory.
type RunnerParams struct {
	Registry   *step.Registry
	Providers  *provider.Registry
	Store      step.Store
	DLQ        *dlq.Service
	Extensions *ext.Registry
	Limiter    *throttle.Limiter
	Identity   throttle.Identity
	Backoff    backoff.Strategy
	Middleware middleware.Middleware
	Logger     *slog.Logger
}

// Runner executes one step at a time, run-to-completion. It owns the step
// record exclusively while executing; between attempts the record lives in
// the step store and every reschedule goes back through the queue, never
// through an in-process sleep.
type Runner struct {
	registry   *step.Registry
	providers  *provider.Registry
	store      step.Store
	dlq        *dlq.Service
	extensions *ext.Registry
	limiter    *throttle.Limiter
	identity   throttle.Identity
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewRunner creates a Runner. Params without a value fall back to safe
// defaults; Store and Registry are required.
func NewRunner(p RunnerParams) *Runner {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Extensions == nil {
		p.Extensions = ext.NewRegistry(p.Logger)
	}
	if p.Backoff == nil {
		p.Backoff = backoff.DefaultStrategy()
	}
	if p.Middleware == nil {
		p.Middleware = middleware.Chain()
	}
	return &Runner{
		registry:   p.Registry,
		providers:  p.Providers,
		store:      p.Store,
		dlq:        p.DLQ,
		extensions: p.Extensions,
		limiter:    p.Limiter,
		identity:   p.Identity,
		backoff:    p.Backoff,
		mw:         p.Middleware,
		logger:     p.Logger,
		now:        time.Now,
	}
}

// Handle executes the step with the given id through the full pipeline:
// prepare, confirmation branch, guard chain, compute, verify, finalize.
//
// The record is reloaded first and a terminal state aborts silently: the
// queue delivers at least once, and the reload-and-check is what makes
// duplicate or racing deliveries harmless.
func (r *Runner) Handle(ctx context.Context, stepID id.StepID) error {
	s, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("engine: reload step %s: %w", stepID, err)
	}

	if s.State.Terminal() {
		r.logger.Debug("duplicate delivery of terminal step, ignoring",
			slog.String("step_id", s.ID.String()),
			slog.String("state", string(s.State)),
		)
		return nil
	}

	handler, ok := r.registry.Get(s.Name)
	if !ok {
		err := fmt.Errorf("%w: %s", stepflow.ErrNoHandler, s.Name)
		return r.failHard(ctx, s, err, r.now())
	}

	// Resolve the provider bundle up front: its classification table also
	// covers errors raised by the guard chain and verification.
	var ph *provider.Handler
	table := classify.Persistence()
	if handler.Provider != "" {
		ph, err = r.providers.Resolve(handler.Provider)
		if err != nil {
			return r.failHard(ctx, s, err, r.now())
		}
		if ph.Classification != nil {
			table = ph.Classification
		}
	}

	// Claim the step.
	if s.State == step.StatePending {
		if terr := step.Transition(s, step.StateDispatched); terr != nil {
			return terr
		}
	}
	if terr := step.Transition(s, step.StateRunning); terr != nil {
		return terr
	}
	started := r.now()
	if s.StartedAt == nil {
		utc := started.UTC()
		s.StartedAt = &utc
	}
	if uerr := r.store.UpdateStep(ctx, s); uerr != nil {
		return fmt.Errorf("engine: claim step %s: %w", s.ID, uerr)
	}
	r.extensions.EmitStepStarted(ctx, s)

	// Confirmation branch: re-verify a previously performed action without
	// re-running the computation. Handlers without a Confirm hook fall back
	// to their Verify hook alone; the compute call is skipped either way.
	if s.DoubleCheck {
		if handler.Confirm != nil {
			return r.confirm(ctx, s, handler, table, started)
		}
		return r.reverify(ctx, s, handler, table, started)
	}

	chain := r.buildChain(handler, ph)
	res, guardName, gerr := chain.Evaluate(ctx, s)
	if gerr != nil {
		return r.handleFailure(ctx, s, table, fmt.Errorf("guard %s: %w", guardName, gerr), started)
	}

	switch res.Kind {
	case guard.Stop:
		return r.finalizeState(ctx, s, step.StateStopped, res.Reason, started)
	case guard.Skip:
		return r.finalizeState(ctx, s, step.StateSkipped, res.Reason, started)
	case guard.Fail:
		if guardName == "max-retries" {
			return r.failHard(ctx, s, stepflow.ErrMaxRetriesExceeded, started)
		}
		return r.failSilently(ctx, s, res.Reason, started)
	case guard.Retry:
		return r.scheduleRetry(ctx, s, errors.New(res.Reason), 0)
	case guard.Throttle:
		return r.rescheduleThrottled(ctx, s, res.Wait)
	}

	// Reserve throttle budget before the provider call so concurrent
	// workers observe the consumed unit immediately.
	if ph != nil && r.limiter != nil {
		r.limiter.RecordDispatch(ctx, ph.Throttle, r.identity)
	}

	var result []byte
	computeErr := r.mw(ctx, s, func(ctx context.Context) error {
		if handler.Compute == nil {
			return nil
		}
		out, cerr := handler.Compute(ctx, s.Args)
		if cerr != nil {
			return cerr
		}
		result = out
		return nil
	})
	if computeErr != nil {
		return r.handleFailure(ctx, s, table, computeErr, started)
	}

	if handler.Verify != nil {
		if verr := handler.Verify(ctx, s.Args); verr != nil {
			return r.handleFailure(ctx, s, table, fmt.Errorf("verify: %w", verr), started)
		}
	}

	return r.finalizeCompleted(ctx, s, result, started)
}

// Execute adapts Handle to the worker pool contract. The pool hands over
// a freshly dequeued record, but Handle reloads anyway: the reload is the
// idempotency guard.
func (r *Runner) Execute(ctx context.Context, s *step.Step) error {
	return r.Handle(ctx, s.ID)
}

// Killed is the supervisor callback for steps whose worker died or whose
// external timeout fired. It performs the same finalize-and-fail sequence
// as an uncaught computation error, guarded against double-transitioning
// a step that already reached a terminal state.
func (r *Runner) Killed(ctx context.Context, stepID id.StepID, cause error) error {
	s, err := r.store.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("engine: reload killed step %s: %w", stepID, err)
	}
	if s.State.Terminal() {
		return nil
	}
	if cause == nil {
		cause = errors.New("killed by supervisor")
	}
	started := r.now()
	if s.StartedAt != nil {
		started = *s.StartedAt
	}
	return r.failHard(ctx, s, cause, started)
}

// buildChain assembles the guard chain in its fixed evaluation order. The
// throttle guard is present only for provider steps; max-retries always
// sits last so throttle waits never starve a legitimate retry budget.
func (r *Runner) buildChain(h *step.Handler, ph *provider.Handler) guard.Chain {
	chain := guard.Chain{
		guard.NewPredicate("stop", guard.Stop, h.Stop),
		guard.NewPredicate("fail", guard.Fail, h.Fail),
		guard.NewPredicate("skip", guard.Skip, h.Skip),
		guard.NewPredicate("retry", guard.Retry, h.Retry),
	}
	if ph != nil && r.limiter != nil {
		chain = append(chain, guard.NewThrottle(r.limiter, ph.Throttle, r.identity))
	}
	chain = append(chain, guard.NewMaxRetries())
	return chain
}

// confirm runs only the confirmation check. True closes the step out;
// false reschedules another confirmation attempt, consuming retry budget
// so a never-confirming step eventually exhausts it.
func (r *Runner) confirm(ctx context.Context, s *step.Step, h *step.Handler, table *classify.Table, started time.Time) error {
	var confirmed bool
	err := r.mw(ctx, s, func(ctx context.Context) error {
		var cerr error
		confirmed, cerr = h.Confirm(ctx, s.Args)
		return cerr
	})
	if err != nil {
		return r.handleFailure(ctx, s, table, fmt.Errorf("confirm: %w", err), started)
	}
	if confirmed {
		return r.finalizeCompleted(ctx, s, nil, started)
	}
	if s.MaxRetries > 0 && s.RetryCount >= s.MaxRetries {
		return r.failHard(ctx, s, fmt.Errorf("%w: confirmation never observed", stepflow.ErrMaxRetriesExceeded), started)
	}
	return r.scheduleRetry(ctx, s, errors.New("confirmation pending"), 0)
}

// reverify is the double-check path for handlers that expose only a
// Verify hook: the business computation never re-runs. A handler with
// neither hook has nothing left to check and completes outright.
func (r *Runner) reverify(ctx context.Context, s *step.Step, h *step.Handler, table *classify.Table, started time.Time) error {
	if h.Verify == nil {
		return r.finalizeCompleted(ctx, s, nil, started)
	}
	err := r.mw(ctx, s, func(ctx context.Context) error {
		return h.Verify(ctx, s.Args)
	})
	if err != nil {
		return r.handleFailure(ctx, s, table, fmt.Errorf("verify: %w", err), started)
	}
	return r.finalizeCompleted(ctx, s, nil, started)
}

// handleFailure routes an error raised during execution through the
// classification table and translates the decision into a state change.
func (r *Runner) handleFailure(ctx context.Context, s *step.Step, table *classify.Table, err error, started time.Time) error {
	decision := table.Classify(err, s.RetryCount)

	r.logger.Debug("step error classified",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.String("outcome", decision.Outcome.String()),
		slog.String("error", err.Error()),
	)

	switch decision.Outcome {
	case classify.OutcomeIgnore:
		// The error is a successful no-op (e.g. "no data yet").
		return r.finalizeCompleted(ctx, s, nil, started)
	case classify.OutcomeRateLimited:
		// Provider unavailability, not job failure: no retry budget spent.
		return r.rescheduleThrottled(ctx, s, decision.Wait)
	case classify.OutcomeRetry:
		return r.scheduleRetry(ctx, s, err, decision.Wait)
	default: // OutcomePermanent, OutcomeUnclassified
		return r.failHard(ctx, s, err, started)
	}
}

// scheduleRetry returns the step to the queue with a computed delay,
// consuming one unit of retry budget. An exhausted budget converts the
// retry into a hard failure.
func (r *Runner) scheduleRetry(ctx context.Context, s *step.Step, cause error, wait time.Duration) error {
	s.RetryCount++
	if s.MaxRetries > 0 && s.RetryCount > s.MaxRetries {
		return r.failHard(ctx, s, fmt.Errorf("%w: %v", stepflow.ErrMaxRetriesExceeded, cause), r.startedAt(s))
	}

	if wait <= 0 {
		wait = r.backoff.Delay(s.RetryCount)
	}
	s.ErrorMessage = cause.Error()
	s.RunAt = r.now().Add(wait).UTC()
	if terr := step.Transition(s, step.StatePending); terr != nil {
		return terr
	}
	if uerr := r.store.UpdateStep(ctx, s); uerr != nil {
		return fmt.Errorf("engine: reschedule step %s: %w", s.ID, uerr)
	}

	r.extensions.EmitStepRetrying(ctx, s, s.RetryCount, s.RunAt)
	r.logger.Info("step retry scheduled",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.Int("retry_count", s.RetryCount),
		slog.Duration("wait", wait),
		slog.String("error", cause.Error()),
	)
	return nil
}

// rescheduleThrottled returns the step to the queue after the throttle
// wait. The retry counter is untouched: throttling reports provider
// unavailability, not job failure.
func (r *Runner) rescheduleThrottled(ctx context.Context, s *step.Step, wait time.Duration) error {
	if wait <= 0 {
		wait = time.Second
	}
	s.RunAt = r.now().Add(wait).UTC()
	if terr := step.Transition(s, step.StatePending); terr != nil {
		return terr
	}
	if uerr := r.store.UpdateStep(ctx, s); uerr != nil {
		return fmt.Errorf("engine: reschedule throttled step %s: %w", s.ID, uerr)
	}

	r.extensions.EmitStepThrottled(ctx, s, wait)
	r.logger.Debug("step throttled",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.Duration("wait", wait),
	)
	return nil
}

// failSilently finalizes a business precondition violation. It is
// non-alerting: the step fails, but nothing reaches the DLQ and no
// failure hook fires.
func (r *Runner) failSilently(ctx context.Context, s *step.Step, reason string, started time.Time) error {
	s.ErrorMessage = reason
	if err := r.finalize(ctx, s, step.StateFailed, started); err != nil {
		return err
	}
	r.logger.Info("step failed precondition",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.String("reason", reason),
	)
	return nil
}

// failHard finalizes the step as Failed, records the error fields, copies
// it to the dead-letter queue, and fires the failure hooks.
func (r *Runner) failHard(ctx context.Context, s *step.Step, cause error, started time.Time) error {
	s.ErrorMessage = cause.Error()
	s.ErrorTrace = fmt.Sprintf("%+v", cause)
	if err := r.finalize(ctx, s, step.StateFailed, started); err != nil {
		return err
	}

	r.extensions.EmitStepFailed(ctx, s, cause)
	if r.dlq != nil {
		if derr := r.dlq.Push(ctx, s, cause); derr != nil {
			r.logger.Error("dlq push failed",
				slog.String("step_id", s.ID.String()),
				slog.String("error", derr.Error()),
			)
		} else {
			r.extensions.EmitStepDLQ(ctx, s, cause)
		}
	}

	r.logger.Error("step failed",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.Int("retry_count", s.RetryCount),
		slog.String("error", cause.Error()),
	)
	return nil
}

// finalizeState closes the step in a guard-driven terminal state (Stopped
// or Skipped).
func (r *Runner) finalizeState(ctx context.Context, s *step.Step, target step.State, reason string, started time.Time) error {
	if err := r.finalize(ctx, s, target, started); err != nil {
		return err
	}
	r.logger.Info("step closed by guard",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.String("state", string(target)),
		slog.String("reason", reason),
	)
	return nil
}

// finalizeCompleted stores the result payload and marks the step Completed.
func (r *Runner) finalizeCompleted(ctx context.Context, s *step.Step, result []byte, started time.Time) error {
	if result != nil {
		s.Result = result
	}
	s.ErrorMessage = ""
	if err := r.finalize(ctx, s, step.StateCompleted, started); err != nil {
		return err
	}
	r.extensions.EmitStepCompleted(ctx, s, s.Duration)
	r.logger.Info("step completed",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", s.Name),
		slog.Duration("duration", s.Duration),
	)
	return nil
}

// finalize stamps the duration, applies the terminal transition, and
// persists the record.
func (r *Runner) finalize(ctx context.Context, s *step.Step, target step.State, started time.Time) error {
	now := r.now().UTC()
	s.Duration = now.Sub(started)
	s.CompletedAt = &now
	if !s.State.Terminal() {
		if terr := step.Transition(s, target); terr != nil {
			return terr
		}
	}
	if uerr := r.store.UpdateStep(ctx, s); uerr != nil {
		return fmt.Errorf("engine: finalize step %s: %w", s.ID, uerr)
	}
	return nil
}

func (r *Runner) startedAt(s *step.Step) time.Time {
	if s.StartedAt != nil {
		return *s.StartedAt
	}
	return r.now()
}
