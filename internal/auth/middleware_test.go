package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsboard/opsboard-backend/pkg/tenant"
	"github.com/opsboard/opsboard-backend/pkg/testutil"
)

func gateRequest(gate func(http.Handler) http.Handler, scope *tenant.Context) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/saved-views", nil)
	if scope != nil {
		req = req.WithContext(tenant.NewContext(req.Context(), *scope))
	}

	rec := httptest.NewRecorder()
	gate(next).ServeHTTP(rec, req)
	return rec
}

func TestRequireWriter(t *testing.T) {
	engineer := testutil.NewScope(tenant.RoleEngineer)
	admin := testutil.NewScope(tenant.RoleAdmin)
	viewer := testutil.NewScope(tenant.RoleViewer)

	assert.Equal(t, http.StatusOK, gateRequest(RequireWriter, &engineer).Code)
	assert.Equal(t, http.StatusOK, gateRequest(RequireWriter, &admin).Code)

	// Viewers read; every mutation route sits behind this gate.
	assert.Equal(t, http.StatusForbidden, gateRequest(RequireWriter, &viewer).Code)
	assert.Equal(t, http.StatusUnauthorized, gateRequest(RequireWriter, nil).Code)
}

func TestRequireAdmin(t *testing.T) {
	admin := testutil.NewScope(tenant.RoleAdmin)
	engineer := testutil.NewScope(tenant.RoleEngineer)
	viewer := testutil.NewScope(tenant.RoleViewer)

	assert.Equal(t, http.StatusOK, gateRequest(RequireAdmin, &admin).Code)
	assert.Equal(t, http.StatusForbidden, gateRequest(RequireAdmin, &engineer).Code)
	assert.Equal(t, http.StatusForbidden, gateRequest(RequireAdmin, &viewer).Code)
	assert.Equal(t, http.StatusUnauthorized, gateRequest(RequireAdmin, nil).Code)
}
