package identity

import (
	"context"

	"limitgate/internal/storage"
)

// Identity is the resolved caller of a request
type Identity struct {
	// ID is the stable user identifier from the token subject
	ID string
	// Email from the user profile
	Email string
	// Role is the authorization role ("user", "admin")
	Role string
	// Plan is the subscription plan the caller is on
	Plan storage.Plan
}

// IsAdmin reports whether the identity carries the admin role
func (i *Identity) IsAdmin() bool {
	return i.Role == "admin"
}

type contextKey struct{}

// WithIdentity stores the identity in the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext retrieves the identity from the context
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
