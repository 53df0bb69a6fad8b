package middleware

import (
	"context"

	"github.com/martingalian/stepflow/step"
	"github.com/martingalian/stepflow/throttle"
)

// Identity returns middleware that injects the dispatch identity (source
// IP and account) into the handler context. Provider clients read it back
// with throttle.IdentityFromContext so outbound calls attribute their
// budget consumption to the right scope.
func Identity(ident throttle.Identity) Middleware {
	return func(ctx context.Context, _ *step.Step, next Handler) error {
		return next(throttle.NewContext(ctx, ident))
	}
}
