// Package auth carries the authenticated caller through request contexts.
package auth

import "context"

// AuthContext identifies the caller for the lifetime of one request: which
// user, acting in which space, under which membership role, on which session.
type AuthContext struct {
	UserID    int64
	SpaceID   int64
	Role      string
	SessionID int64
}

// Admin reports whether the caller holds the admin role in the active space.
func (ac AuthContext) Admin() bool { return ac.Role == "admin" }

type ctxKey struct{}

// WithAuth returns a child context carrying ac. The auth middleware is the
// only writer; everything downstream reads.
func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext extracts the caller identity, reporting whether one is present.
func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(AuthContext)
	return ac, ok
}

// SpaceID returns the caller's active space, or zero when unauthenticated.
func SpaceID(ctx context.Context) int64 {
	ac, _ := FromContext(ctx)
	return ac.SpaceID
}

// UserID returns the caller's user ID, or zero when unauthenticated.
func UserID(ctx context.Context) int64 {
	ac, _ := FromContext(ctx)
	return ac.UserID
}

// IsAdmin reports whether the request carries an admin membership.
func IsAdmin(ctx context.Context) bool {
	ac, _ := FromContext(ctx)
	return ac.Admin()
}
