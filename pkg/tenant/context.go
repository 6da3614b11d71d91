// Package tenant defines the scoping contract every repository operates under.
//
// A tenant.Context is passed explicitly to every repository method so that a
// call site without one does not compile. Reads AND tenant_id into their
// predicates; writes inject it into created rows. Administrative jobs opt into
// scoped access by constructing the context themselves.
package tenant

import (
	"context"
	"errors"
)

// Role is the membership role of the principal within the active tenant.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleEngineer Role = "ENGINEER"
	RoleViewer   Role = "VIEWER"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEngineer, RoleViewer:
		return true
	}
	return false
}

// CanWrite reports whether the role may mutate tenant data.
func (r Role) CanWrite() bool {
	return r == RoleAdmin || r == RoleEngineer
}

// IsAdmin reports whether the role grants administrative access
// (audit log reads, deleting other users' saved views).
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

// ErrTenantContextMissing is returned by repositories called without a
// populated tenant context. It indicates a programming error, not bad input.
var ErrTenantContextMissing = errors.New("tenant context missing")

// Context carries the active tenant and the acting principal.
// Every repository method takes one as its second argument.
type Context struct {
	TenantID string
	UserID   string
	Role     Role
}

// Validate returns ErrTenantContextMissing when the scope is unusable.
func (c Context) Validate() error {
	if c.TenantID == "" || c.UserID == "" {
		return ErrTenantContextMissing
	}
	return nil
}

// System returns a scope for background work acting on behalf of a tenant.
// The worker is the principal; it carries engineer-level write access.
func System(tenantID string) Context {
	return Context{TenantID: tenantID, UserID: "system", Role: RoleEngineer}
}

type contextKey struct{}

// NewContext stashes the scope in a context.Context for handler plumbing.
// Repositories never read it implicitly; handlers pull it back out with
// FromContext and pass it on explicitly.
func NewContext(ctx context.Context, scope Context) context.Context {
	return context.WithValue(ctx, contextKey{}, scope)
}

// FromContext extracts the scope placed by the auth middleware.
func FromContext(ctx context.Context) (Context, error) {
	scope, ok := ctx.Value(contextKey{}).(Context)
	if !ok || scope.Validate() != nil {
		return Context{}, ErrTenantContextMissing
	}
	return scope, nil
}
