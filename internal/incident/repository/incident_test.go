package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard-backend/pkg/tenant"
	"github.com/opsboard/opsboard-backend/pkg/testutil"
)

func incidentRows() *sqlmock.Rows {
	return testutil.MockRows(
		"id", "tenant_id", "title", "severity", "status", "service", "environment",
		"tags", "created_by_id", "assignee_id", "created_at", "updated_at",
	)
}

func TestIncidentRepository_List_DefaultLimit(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := NewIncidentRepository(mockDB.DB)
	scope := testutil.NewScope(tenant.RoleViewer)

	// The repository fetches limit+1 rows to prove has_more.
	mockDB.ExpectQuery("SELECT").
		WithArgs(scope.TenantID, 21).
		WillReturnRows(incidentRows())

	incidents, cursor, hasMore, err := repo.List(context.Background(), scope, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, incidents)
	assert.Empty(t, cursor)
	assert.False(t, hasMore)
	mockDB.ExpectationsWereMet(t)
}

func TestIncidentRepository_List_ClampsOversizedLimit(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := NewIncidentRepository(mockDB.DB)
	scope := testutil.NewScope(tenant.RoleViewer)

	// Anything above 100 is capped at 100, never reset to the default.
	mockDB.ExpectQuery("SELECT").
		WithArgs(scope.TenantID, 101).
		WillReturnRows(incidentRows())

	_, _, _, err := repo.List(context.Background(), scope, ListFilter{Limit: 250})
	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestIncidentRepository_List_RequiresScope(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	repo := NewIncidentRepository(mockDB.DB)
	_, _, _, err := repo.List(context.Background(), tenant.Context{}, ListFilter{})
	assert.ErrorIs(t, err, tenant.ErrTenantContextMissing)
	mockDB.ExpectationsWereMet(t)
}
