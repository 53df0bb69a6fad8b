// Package engine wires the stepflow subsystems into a running system and
// hosts the step runner: the pipeline that takes a dispatched step through
// its guard chain, business computation, verification, and finalization.
//
// Build composes an [stepflow.Orchestrator] with the step registry,
// provider registry, distributed throttle, worker pool, cron scheduler,
// and extension registry:
//
//	orch, _ := stepflow.New(stepflow.WithStore(memory.New()))
//	eng, _ := engine.Build(orch,
//	    engine.WithThrottleKV(redisKV),
//	    engine.WithIdentity(throttle.Identity{SourceIP: ip}),
//	)
//	engine.Register(eng, step.NewDefinition("send-email", sendEmail))
//	eng.Start(ctx)
//
// The runner is deliberately tolerant of duplicate delivery: workers pull
// from an at-least-once queue, so Handle reloads the step record first and
// silently ignores steps that already reached a terminal state.
package engine
