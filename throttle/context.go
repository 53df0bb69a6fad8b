package throttle

import "context"

type identityKey struct{}

// NewContext returns a context carrying the dispatch identity. Provider
// clients and middleware read it back with [IdentityFromContext].
func NewContext(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// IdentityFromContext extracts the dispatch identity from the context.
// The second return is false when no identity was attached.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey{}).(Identity)
	return ident, ok
}
