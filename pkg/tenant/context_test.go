package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_Validate(t *testing.T) {
	valid := Context{TenantID: "t1", UserID: "u1", Role: RoleViewer}
	assert.NoError(t, valid.Validate())

	assert.ErrorIs(t, Context{UserID: "u1"}.Validate(), ErrTenantContextMissing)
	assert.ErrorIs(t, Context{TenantID: "t1"}.Validate(), ErrTenantContextMissing)
	assert.ErrorIs(t, Context{}.Validate(), ErrTenantContextMissing)
}

func TestContext_Roundtrip(t *testing.T) {
	scope := Context{TenantID: "t1", UserID: "u1", Role: RoleEngineer}
	ctx := NewContext(context.Background(), scope)

	got, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, scope, got)
}

func TestFromContext_Missing(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrTenantContextMissing)

	// An invalid stored scope is treated as missing.
	ctx := NewContext(context.Background(), Context{TenantID: "t1"})
	_, err = FromContext(ctx)
	assert.ErrorIs(t, err, ErrTenantContextMissing)
}

func TestRoles(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleEngineer.Valid())
	assert.True(t, RoleViewer.Valid())
	assert.False(t, Role("OWNER").Valid())

	assert.True(t, RoleAdmin.CanWrite())
	assert.True(t, RoleEngineer.CanWrite())
	assert.False(t, RoleViewer.CanWrite())

	assert.True(t, RoleAdmin.IsAdmin())
	assert.False(t, RoleEngineer.IsAdmin())
	assert.False(t, RoleViewer.IsAdmin())
}

func TestSystem(t *testing.T) {
	scope := System("t1")
	require.NoError(t, scope.Validate())
	assert.Equal(t, "t1", scope.TenantID)
	assert.True(t, scope.Role.CanWrite())
}
