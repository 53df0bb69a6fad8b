package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/martingalian/stepflow"
	"github.com/martingalian/stepflow/backoff"
	"github.com/martingalian/stepflow/cluster"
	"github.com/martingalian/stepflow/cron"
	"github.com/martingalian/stepflow/dlq"
	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/middleware"
	"github.com/martingalian/stepflow/provider"
	"github.com/martingalian/stepflow/queue"
	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/store/memory"
	"github.com/martingalian/stepflow/throttle"
	"github.com/martingalian/stepflow/worker"
)

const tracerName = "github.com/martingalian/stepflow"

// Engine owns the wired subsystems of one worker process: registries,
// runner, pool, throttle, and the optional cron scheduler.
type Engine struct {
	orch       *stepflow.Orchestrator
	logger     *slog.Logger
	registry   *step.Registry
	providers  *provider.Registry
	extensions *ext.Registry

	stepStore    step.Store
	dlqService   *dlq.Service
	cronStore    cron.Store
	clusterStore cluster.Store

	limiter  *throttle.Limiter
	identity throttle.Identity
	runner   *Runner
	pool     *worker.Pool
	manager  *queue.Manager

	scheduler *cron.Scheduler

	// build-time options
	kv             throttle.KV
	bo             backoff.Strategy
	mws            []middleware.Middleware
	exts           []ext.Extension
	queueConfigs   []queue.Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine during Build.
type Option func(*Engine)

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends middleware to the default execution stack.
func WithMiddleware(m middleware.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithThrottleKV sets the shared coordination store for the distributed
// throttle. Production deployments pass the redis KV here; the default is
// a process-local memory KV suitable only for tests and single-process
// setups.
func WithThrottleKV(kv throttle.KV) Option {
	return func(eng *Engine) { eng.kv = kv }
}

// WithIdentity sets the source identity (IP / account) this worker
// dispatches under. Throttle windows, bans, and quotas are scoped to it.
func WithIdentity(ident throttle.Identity) Option {
	return func(eng *Engine) { eng.identity = ident }
}

// WithClusterStore overrides the cluster worker registry. Pass the redis
// cluster store to coordinate workers over Redis while keeping step data
// in a relational backend.
func WithClusterStore(cs cluster.Store) Option {
	return func(eng *Engine) { eng.clusterStore = cs }
}

// WithProvider registers an external provider handler factory.
func WithProvider(name string, f provider.Factory) Option {
	return func(eng *Engine) { eng.providers.Register(name, f) }
}

// WithQueueConfig adds a local per-queue rate/concurrency configuration.
func WithQueueConfig(cfg queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, cfg) }
}

// WithTracerProvider sets the OpenTelemetry tracer provider for the
// tracing middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the OpenTelemetry meter provider for the metrics
// middleware. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build wires an Engine around the orchestrator's store. The store must
// implement step.Store; the dlq, cron, and cluster contracts are optional
// and the matching feature is disabled when the backend lacks them.
func Build(orch *stepflow.Orchestrator, opts ...Option) (*Engine, error) {
	if orch == nil {
		return nil, errors.New("engine: nil orchestrator")
	}
	store := orch.Store()
	if store == nil {
		return nil, stepflow.ErrNoStore
	}

	eng := &Engine{
		orch:      orch,
		logger:    orch.Logger(),
		registry:  step.NewRegistry(),
		providers: provider.NewRegistry(),
	}
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, opt := range opts {
		opt(eng)
	}
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	stepStore, ok := store.(step.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store %T does not implement step.Store: %w", store, stepflow.ErrNoStore)
	}
	eng.stepStore = stepStore

	if dlqStore, ok := store.(dlq.Store); ok {
		eng.dlqService = dlq.NewService(dlqStore, stepStore)
	}
	if cronStore, ok := store.(cron.Store); ok {
		eng.cronStore = cronStore
	}
	if eng.clusterStore == nil {
		if clusterStore, ok := store.(cluster.Store); ok {
			eng.clusterStore = clusterStore
		}
	}

	if eng.kv == nil {
		eng.kv = memory.NewKV()
	}
	eng.limiter = throttle.NewLimiter(eng.kv, throttle.WithLogger(eng.logger))

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	eng.runner = NewRunner(RunnerParams{
		Registry:   eng.registry,
		Providers:  eng.providers,
		Store:      stepStore,
		DLQ:        eng.dlqService,
		Extensions: eng.extensions,
		Limiter:    eng.limiter,
		Identity:   eng.identity,
		Backoff:    eng.bo,
		Middleware: middleware.Chain(eng.middlewareStack()...),
		Logger:     eng.logger,
	})

	schedulerEnabled := eng.cronStore != nil && eng.clusterStore != nil

	cfg := orch.Config()
	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithAccount(eng.identity.Account),
	}
	// With a scheduler present, reap duty moves to the cluster leader so
	// the fleet carries one reaper; otherwise each pool reaps for itself.
	if !schedulerEnabled {
		poolOpts = append(poolOpts, worker.WithStaleStepThreshold(cfg.StaleStepThreshold))
	}
	if len(eng.queueConfigs) > 0 {
		eng.manager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.manager))
	}
	eng.pool = worker.NewPool(stepStore, eng.runner, eng.logger, poolOpts...)

	orch.SetPool(eng.pool)
	orch.SetExtensions(eng.extensions)

	if schedulerEnabled {
		eng.scheduler = cron.NewScheduler(
			eng.cronStore,
			eng.clusterStore,
			eng.EnqueueRaw,
			eng.extensions,
			eng.pool.WorkerID(),
			eng.logger,
			cron.WithReapDuty(stepStore, cfg.StaleStepThreshold),
		)
	}

	return eng, nil
}

// middlewareStack builds the default execution stack, innermost last:
// recover, tracing, metrics, logging, identity, timeout, then any
// user-supplied middleware.
func (eng *Engine) middlewareStack() []middleware.Middleware {
	tracing := middleware.Tracing()
	if eng.tracerProvider != nil {
		tracing = middleware.TracingWithTracer(eng.tracerProvider.Tracer(tracerName))
	}
	metrics := middleware.Metrics()
	if eng.meterProvider != nil {
		metrics = middleware.MetricsWithMeter(eng.meterProvider.Meter(tracerName))
	}

	stack := []middleware.Middleware{
		middleware.Recover(eng.logger),
		tracing,
		metrics,
		middleware.Logging(eng.logger),
		middleware.Identity(eng.identity),
		middleware.Timeout(eng.logger),
	}
	return append(stack, eng.mws...)
}

// Start registers this worker in the cluster, starts the cron scheduler,
// and begins step processing.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.clusterStore != nil {
		hostname, _ := os.Hostname()
		cfg := eng.orch.Config()
		w := &cluster.Worker{
			ID:          eng.pool.WorkerID(),
			Hostname:    hostname,
			Queues:      cfg.Queues,
			Concurrency: cfg.Concurrency,
			State:       cluster.WorkerActive,
			LastSeen:    time.Now().UTC(),
			CreatedAt:   time.Now().UTC(),
		}
		if err := eng.clusterStore.RegisterWorker(ctx, w); err != nil {
			return fmt.Errorf("engine: register worker: %w", err)
		}
	}

	if eng.scheduler != nil {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("engine: start scheduler: %w", err)
		}
	}

	return eng.orch.Start(ctx)
}

// Stop shuts the engine down: scheduler first, then the pool via the
// orchestrator, then cluster deregistration.
func (eng *Engine) Stop(ctx context.Context) error {
	if eng.scheduler != nil {
		if err := eng.scheduler.Stop(ctx); err != nil {
			eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
		}
	}

	err := eng.orch.Stop(ctx)

	if eng.clusterStore != nil {
		if derr := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); derr != nil {
			eng.logger.Error("worker deregister error", slog.String("error", derr.Error()))
		}
	}

	return err
}

// ──────────────────────────────────────────────────
// Registration and enqueueing
// ──────────────────────────────────────────────────

// Register adds a typed step definition to the engine's registry.
func Register[T any](eng *Engine, def *step.Definition[T]) {
	step.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals args and enqueues one step of the named kind.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, args T, opts ...step.Option) (id.StepID, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return id.StepID{}, fmt.Errorf("engine: marshal args for step %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, raw, opts...)
}

// EnqueueRaw enqueues a step with pre-serialized args. Definition-level
// options apply first, then the per-call options.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, args []byte, opts ...step.Option) (id.StepID, error) {
	o := step.DefaultOptions()
	if h, ok := eng.registry.Get(name); ok {
		o = h.Opts
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = now
	}

	s := &step.Step{
		Entity:      stepflow.NewEntity(),
		ID:          id.NewStepID(),
		Name:        name,
		Queue:       o.Queue,
		Args:        args,
		Block:       o.Block,
		Index:       o.Index,
		ChildBlock:  o.ChildBlock,
		State:       step.StatePending,
		Priority:    o.Priority,
		MaxRetries:  o.MaxRetries,
		DoubleCheck: o.DoubleCheck,
		RunAt:       runAt,
		Timeout:     o.Timeout,
	}

	if err := eng.stepStore.EnqueueStep(ctx, s); err != nil {
		return id.StepID{}, fmt.Errorf("engine: enqueue step %q: %w", name, err)
	}
	eng.extensions.EmitStepEnqueued(ctx, s)

	eng.logger.Debug("step enqueued",
		slog.String("step_id", s.ID.String()),
		slog.String("step_name", name),
		slog.String("queue", s.Queue),
	)
	return s.ID, nil
}

// RegisterCron persists a recurring enqueue of the named step. Registering
// the same cron name twice is a no-op, so process restarts are safe.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	if eng.cronStore == nil {
		return fmt.Errorf("engine: cron not supported: %w", stepflow.ErrNoStore)
	}

	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("engine: parse cron schedule %q: %w", def.Schedule, err)
	}

	raw, err := json.Marshal(def.Args)
	if err != nil {
		return fmt.Errorf("engine: marshal cron args for %q: %w", def.Name, err)
	}

	next := sched.Next(time.Now().UTC())
	entry := &cron.Entry{
		Entity:    stepflow.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		StepName:  def.StepName,
		Queue:     def.Queue,
		Args:      raw,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, stepflow.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("engine: register cron %q: %w", def.Name, err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Provider bans
// ──────────────────────────────────────────────────

// RecordBan marks the named provider banned for d under this worker's
// identity and notifies ban hooks. Provider clients call it when a
// response reports an IP or account block rather than a plain rate limit;
// every worker sharing the identity observes the ban on its next dispatch
// check.
func (eng *Engine) RecordBan(ctx context.Context, providerName string, d time.Duration) error {
	ph, err := eng.providers.Resolve(providerName)
	if err != nil {
		return err
	}
	eng.limiter.RecordBan(ctx, ph.Throttle, eng.identity, d)
	eng.extensions.EmitProviderBanned(ctx, providerName, time.Now().UTC().Add(d))
	return nil
}

// ClearBan removes the ban marker for the named provider, e.g. after the
// provider confirms the source is unblocked early.
func (eng *Engine) ClearBan(ctx context.Context, providerName string) error {
	ph, err := eng.providers.Resolve(providerName)
	if err != nil {
		return err
	}
	eng.limiter.ClearBan(ctx, ph.Throttle, eng.identity)
	return nil
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Runner returns the step runner (exposed for supervisors that need the
// Killed callback).
func (eng *Engine) Runner() *Runner { return eng.runner }

// Registry returns the step definition registry.
func (eng *Engine) Registry() *step.Registry { return eng.registry }

// Providers returns the provider registry.
func (eng *Engine) Providers() *provider.Registry { return eng.providers }

// Extensions returns the lifecycle extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Limiter returns the distributed throttle limiter.
func (eng *Engine) Limiter() *throttle.Limiter { return eng.limiter }

// DLQ returns the dead-letter service, or nil if the store has no DLQ
// support.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Scheduler returns the cron scheduler, or nil when the store lacks cron
// or cluster support.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }
