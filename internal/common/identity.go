package common

import "context"

// Identity holds the authenticated caller for a request: the user the cache
// is keyed on and the bearer token forwarded to the upstream backend.
// Absence of an Identity means the request is not authenticated and no
// upstream fetch may be attempted on its behalf.
type Identity struct {
	UserID string
	Token  string
}

type contextKey int

const identityContextKey contextKey = iota

// WithIdentity stores an Identity in the request context.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFromContext retrieves the Identity from context, or nil if absent.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}
