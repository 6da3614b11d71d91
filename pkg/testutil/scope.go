package testutil

import (
	"github.com/google/uuid"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// NewScope returns a tenant scope with fresh ids, for unit tests that never
// touch a real database.
func NewScope(role tenant.Role) tenant.Context {
	return tenant.Context{
		TenantID: uuid.New().String(),
		UserID:   uuid.New().String(),
		Role:     role,
	}
}

// ScopeFor returns a scope for known ids.
func ScopeFor(tenantID, userID string, role tenant.Role) tenant.Context {
	return tenant.Context{TenantID: tenantID, UserID: userID, Role: role}
}
