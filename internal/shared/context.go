package shared

import "context"

type callerContextKey struct{}

// ContextWithCaller stores the authenticated caller identity in context.
func ContextWithCaller(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, callerContextKey{}, id)
}

// CallerFromContext extracts the authenticated caller. ok is false for anonymous requests.
func CallerFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(callerContextKey{}).(Identity)
	return id, ok
}
