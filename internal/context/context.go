// Package context defines typed context keys for values the authorization
// layer injects into request contexts.
package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// UserIDKey is the context key for the authenticated subject id
	UserIDKey ContextKey = "user_id"
	// EmailKey is the context key for the subject email
	EmailKey ContextKey = "email"
	// RoleKey is the context key for the derived role
	RoleKey ContextKey = "role"
	// TeamIDKey is the context key for the subject's team
	TeamIDKey ContextKey = "team_id"
	// DepartmentKey is the context key for the subject's department
	DepartmentKey ContextKey = "department"
	// BootstrapKey is set to "true" when the request was allowed through the
	// session-bootstrap exception
	BootstrapKey ContextKey = "bootstrap"
)

// ExtractUserID extracts the authenticated subject id from the request context
func ExtractUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// ExtractEmail extracts the subject email from the request context
func ExtractEmail(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(EmailKey).(string)
	return email, ok
}

// ExtractRole extracts the derived role from the request context
func ExtractRole(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(RoleKey).(string)
	return role, ok
}

// IsBootstrap reports whether the request was allowed via session bootstrap
func IsBootstrap(ctx context.Context) bool {
	v, ok := ctx.Value(BootstrapKey).(string)
	return ok && v == "true"
}
