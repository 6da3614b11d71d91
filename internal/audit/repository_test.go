package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsboard/opsboard-backend/pkg/tenant"
	"github.com/opsboard/opsboard-backend/pkg/testutil"
)

func TestRecorder_List_LimitBounds(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	recorder := NewRecorder(mockDB.DB)
	scope := testutil.NewScope(tenant.RoleAdmin)

	columns := []string{
		"id", "tenant_id", "actor_id", "action", "entity_type", "entity_id",
		"before_data", "after_data", "metadata", "created_at",
	}

	// Missing limit falls back to the default page size, plus the has_more probe row.
	mockDB.ExpectQuery("SELECT").
		WithArgs(scope.TenantID, 21).
		WillReturnRows(testutil.MockRows(columns...))

	_, _, _, err := recorder.List(context.Background(), scope, ListFilter{})
	require.NoError(t, err)

	// Oversized limits are capped at 100, never reset to the default.
	mockDB.ExpectQuery("SELECT").
		WithArgs(scope.TenantID, 101).
		WillReturnRows(testutil.MockRows(columns...))

	_, _, _, err = recorder.List(context.Background(), scope, ListFilter{Limit: 500})
	require.NoError(t, err)
	mockDB.ExpectationsWereMet(t)
}

func TestSnapshot(t *testing.T) {
	assert.Nil(t, Snapshot(nil))

	data := Snapshot(map[string]string{"status": "OPEN"})
	assert.JSONEq(t, `{"status":"OPEN"}`, string(data))
}
