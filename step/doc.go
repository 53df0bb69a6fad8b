// Package step defines the step entity, its state machine, typed
// definitions, and the store contract.
//
// # Step Entity
//
// A [Step] represents one persisted unit of work inside a block (an
// ordered pipeline instance). It embeds [stepflow.Entity] for timestamps,
// carries JSON-serialized args, and progresses through a strict state
// machine:
//
//	pending → dispatched → running → completed
//	pending → dispatched → running → pending → ...   (retry / throttle)
//	pending → dispatched → running → running → ...   (confirmation attempts)
//	pending → dispatched → running → failed
//	pending → dispatched → running → stopped | skipped
//	not_runnable → pending
//
// Completed, failed, cancelled, skipped, and stopped are terminal: once
// reached, [Transition] rejects every further edge. Redelivered steps in a
// terminal state are no-ops in the engine.
//
// # Defining a Step
//
// Use [Definition] with typed functions. Args are JSON-serialized at
// enqueue time and deserialized before each phase runs:
//
//	var PlaceOrder = step.NewDefinition("place_order",
//	    func(ctx context.Context, in OrderArgs) ([]byte, error) {
//	        return exchange.Place(ctx, in)
//	    },
//	)
//
// Guards, a verification pass, a confirmation check, and a provider name
// (enabling the throttle guard) are optional fields on the definition.
//
// # Registry
//
// [Registry] maps work-kind names to type-erased [Handler] values.
// Register definitions at startup via [RegisterDefinition]. The engine
// package provides higher-level engine.Register and engine.Enqueue
// wrappers.
package step
