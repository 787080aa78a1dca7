package middleware

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RolesKey is the context key for the roles the route guard admitted the request with
	RolesKey contextKey = "roles"
)

// GetRequestIDFromContext retrieves the request ID set by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimw.GetReqID(ctx)
}

// GetRolesFromContext retrieves the session roles from context
func GetRolesFromContext(ctx context.Context) []string {
	if val := ctx.Value(RolesKey); val != nil {
		if roles, ok := val.([]string); ok {
			return roles
		}
	}
	return nil
}

// WithRoles adds the session roles to the context
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, RolesKey, roles)
}
